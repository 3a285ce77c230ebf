package lexical

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

var builtinStopwords = []string{
	"的", "了", "在", "是", "我", "有", "和", "就", "不", "人", "都", "一", "一个",
	"上", "也", "很", "到", "说", "要", "去", "你", "会", "着", "没有", "看", "好",
	"自己", "这", "那", "可以", "但是", "只是", "如果", "因为", "所以", "或者",
	"而且", "虽然", "然而", "不过", "除了", "包括", "关于", "通过", "由于",
	"the", "and", "of", "to", "is", "in", "an", "on", "for", "with", "as", "by", "at",
}

// StopwordSet is decided once at startup and read concurrently afterwards.
type StopwordSet struct {
	words  map[string]struct{}
	source string
}

func BuiltinStopwords() *StopwordSet {
	return newStopwordSet(builtinStopwords, "builtin")
}

// LoadStopwords reads one stopword per line. Blank lines and lines starting
// with '#' are ignored.
func LoadStopwords(path string) (*StopwordSet, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("stopword file path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stopword file: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stopword file: %w", err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("stopword file %s is empty", path)
	}
	return newStopwordSet(words, path), nil
}

func newStopwordSet(words []string, source string) *StopwordSet {
	set := &StopwordSet{words: make(map[string]struct{}, len(words)), source: source}
	for _, w := range words {
		set.words[normalize(w)] = struct{}{}
	}
	return set
}

func (s *StopwordSet) Contains(term string) bool {
	if s == nil {
		return false
	}
	_, ok := s.words[term]
	return ok
}

func (s *StopwordSet) Source() string {
	if s == nil {
		return ""
	}
	return s.source
}

func (s *StopwordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}
