package chunking

import "strings"

// SentenceSplitter breaks text after CJK and ASCII sentence punctuation,
// keeping the punctuation with its sentence. Sentences longer than ChunkSize
// runes fall back to overlapping windows.
type SentenceSplitter struct {
	window *WindowSplitter
}

func NewSentenceSplitter(chunkSize, overlap int) *SentenceSplitter {
	return &SentenceSplitter{window: NewWindowSplitter(chunkSize, overlap)}
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '；', ';', '：', ':':
		return true
	}
	return false
}

func (s *SentenceSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		sentence := strings.TrimSpace(current.String())
		current.Reset()
		if sentence == "" || isPunctuationOnly(sentence) {
			return
		}
		if len([]rune(sentence)) > s.window.ChunkSize {
			out = append(out, s.window.Split(sentence)...)
			return
		}
		out = append(out, sentence)
	}

	for _, r := range text {
		current.WriteRune(r)
		if isSentenceEnd(r) {
			flush()
		}
	}
	flush()
	return out
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if !isSentenceEnd(r) {
			return false
		}
	}
	return true
}
