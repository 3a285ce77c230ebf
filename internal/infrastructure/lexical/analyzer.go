package lexical

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const minTermRunes = 2

type AnalyzerOptions struct {
	StopwordsFile   string
	DictionaryFiles []string
	// DisableDictionary forces the bigram segmenter.
	DisableDictionary bool
}

// Analyzer turns text into BM25 terms. Its capabilities (dictionary
// segmentation, stopword source) are fixed at construction.
type Analyzer struct {
	segmenter Segmenter
	stopwords *StopwordSet
}

func NewAnalyzer(segmenter Segmenter, stopwords *StopwordSet) *Analyzer {
	if segmenter == nil {
		segmenter = BigramSegmenter{}
	}
	if stopwords == nil {
		stopwords = BuiltinStopwords()
	}
	return &Analyzer{segmenter: segmenter, stopwords: stopwords}
}

// NewAnalyzerWithFallback resolves optional resources once, logging every
// fallback it takes.
func NewAnalyzerWithFallback(opts AnalyzerOptions, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}

	stopwords := BuiltinStopwords()
	if opts.StopwordsFile != "" {
		loaded, err := LoadStopwords(opts.StopwordsFile)
		if err != nil {
			logger.Warn("stopwords_fallback", "path", opts.StopwordsFile, "error", err, "builtin_size", stopwords.Len())
		} else {
			stopwords = loaded
		}
	}

	var segmenter Segmenter = BigramSegmenter{}
	if !opts.DisableDictionary {
		seg, err := NewDictionarySegmenter(opts.DictionaryFiles...)
		if err != nil {
			logger.Warn("segmenter_fallback", "segmenter", "bigram", "error", err)
		} else {
			segmenter = seg
		}
	}

	logger.Info("lexical_analyzer_ready", "stopwords", stopwords.Source(), "stopword_count", stopwords.Len())
	return NewAnalyzer(segmenter, stopwords)
}

func (a *Analyzer) Tokens(text string) []string {
	normalized := normalize(text)
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	raw := a.segmenter.Cut(normalized)
	out := make([]string, 0, len(raw))
	for _, term := range raw {
		term = strings.TrimSpace(term)
		if utf8.RuneCountInString(term) < minTermRunes {
			continue
		}
		if !hasWordRune(term) || a.stopwords.Contains(term) {
			continue
		}
		out = append(out, term)
	}
	return out
}

func normalize(text string) string {
	return cases.Fold().String(norm.NFKC.String(text))
}

func hasWordRune(term string) bool {
	for _, r := range term {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
