package chunking

import (
	"fmt"
	"strings"
)

const (
	ModeSentence = "sentence"
	ModeWindow   = "window"
	ModeNone     = "none"

	defaultChunkSize = 300
)

// New returns the splitter for the configured chunking mode.
func New(mode string, chunkSize, overlap int) (Splitter, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeSentence:
		return NewSentenceSplitter(chunkSize, overlap), nil
	case ModeWindow:
		return NewWindowSplitter(chunkSize, overlap), nil
	case ModeNone:
		return WholeText{}, nil
	default:
		return nil, fmt.Errorf("unknown chunking mode %q", mode)
	}
}

// Splitter mirrors ports.Splitter so this package stays free of core imports.
type Splitter interface {
	Split(text string) []string
}

// WindowSplitter cuts text into fixed-size rune windows with overlap.
type WindowSplitter struct {
	ChunkSize int
	Overlap   int
}

func NewWindowSplitter(chunkSize, overlap int) *WindowSplitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &WindowSplitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *WindowSplitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// WholeText keeps every record as a single passage.
type WholeText struct{}

func (WholeText) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []string{text}
}
