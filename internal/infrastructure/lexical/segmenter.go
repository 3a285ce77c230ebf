package lexical

import (
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
)

// Segmenter splits normalized text into candidate terms.
type Segmenter interface {
	Cut(text string) []string
}

type gseSegmenter struct {
	mu  sync.Mutex
	seg gse.Segmenter
}

// NewDictionarySegmenter builds a gse dictionary segmenter. With no files it
// uses the Chinese dictionary compiled into the gse package, so it does not
// depend on the gse source tree being present at run time.
func NewDictionarySegmenter(dictFiles ...string) (Segmenter, error) {
	var seg gse.Segmenter
	// gse reports through the stdlib log package; load failures surface as errors.
	seg.SkipLog = true

	var err error
	if len(dictFiles) == 0 {
		err = seg.LoadDictEmbed()
	} else {
		err = seg.LoadDict(strings.Join(dictFiles, ", "))
	}
	if err != nil {
		return nil, err
	}
	return &gseSegmenter{seg: seg}, nil
}

func (s *gseSegmenter) Cut(text string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seg.Cut(text, true)
}

// BigramSegmenter is the dictionary-free fallback: runs of letters and digits
// become words, runs of Han characters become overlapping bigrams.
type BigramSegmenter struct{}

func (BigramSegmenter) Cut(text string) []string {
	var (
		out  []string
		word strings.Builder
		han  []rune
	)
	flushWord := func() {
		if word.Len() > 0 {
			out = append(out, word.String())
			word.Reset()
		}
	}
	flushHan := func() {
		switch len(han) {
		case 0:
		case 1:
			out = append(out, string(han))
		default:
			for i := 0; i+1 < len(han); i++ {
				out = append(out, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word.WriteRune(r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return out
}
