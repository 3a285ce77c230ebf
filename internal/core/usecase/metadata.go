package usecase

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

const (
	sourceLabelPreviewRunes = 80
	citationPreviewRunes    = 160
	reconcilePrefixRunes    = 100
	unknownSourceLabel      = "unknown source"
)

// placeholderSources are labels upstream tooling writes when it has no source.
var placeholderSources = map[string]struct{}{
	"unknown":        {},
	"n/a":            {},
	"none":           {},
	"unknown source": {},
	"未知来源":           {},
	"无内容":            {},
}

var ocrSourcePattern = regexp.MustCompile(`OCR_page_(\d+)_([A-Za-z]+)(?:_ch(\d+)of(\d+))?`)

// MetadataStore holds the ordered corpus snapshot with reconstructed page
// metadata. It is built once and read concurrently by every query.
type MetadataStore struct {
	passages []domain.Passage
	byID     map[string]int
	byText   map[string]int
}

// NewMetadataStore applies the page reconstruction policy over passages in
// corpus order: explicit page, then a page parsed from an OCR-style source
// label, then the last known page of the same source file.
func NewMetadataStore(passages []domain.Passage) *MetadataStore {
	store := &MetadataStore{
		passages: make([]domain.Passage, 0, len(passages)),
		byID:     make(map[string]int, len(passages)),
		byText:   make(map[string]int, len(passages)),
	}

	lastPage := make(map[string]int)
	for _, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if _, dup := store.byID[p.ID]; dup && p.ID != "" {
			continue
		}

		applyOCRLabel(&p)
		if p.Page == nil && p.SourceFile != "" {
			if page, ok := lastPage[p.SourceFile]; ok {
				p.Page = domain.IntPtr(page)
			}
		}
		if p.Page != nil && p.SourceFile != "" {
			lastPage[p.SourceFile] = *p.Page
		}

		idx := len(store.passages)
		store.passages = append(store.passages, p)
		if p.ID != "" {
			store.byID[p.ID] = idx
		}
		if _, ok := store.byText[p.Text]; !ok {
			store.byText[p.Text] = idx
		}
	}
	return store
}

// Passages returns the reconstructed snapshot in corpus order.
func (s *MetadataStore) Passages() []domain.Passage {
	out := make([]domain.Passage, len(s.passages))
	copy(out, s.passages)
	return out
}

func (s *MetadataStore) Len() int {
	return len(s.passages)
}

func (s *MetadataStore) Lookup(id string) (domain.Passage, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return domain.Passage{}, false
	}
	return s.passages[idx], true
}

// Reconcile fills source, page and chunk metadata that a channel payload is
// missing by matching the passage back to the corpus: by ID, exact text,
// containment, then a shared prefix.
func (s *MetadataStore) Reconcile(p domain.Passage) domain.Passage {
	if s == nil || len(s.passages) == 0 {
		return p
	}
	if p.SourceFile != "" && p.Page != nil {
		return p
	}
	match, ok := s.match(p)
	if !ok {
		return p
	}
	return preferRicherPassage(p, match)
}

func (s *MetadataStore) match(p domain.Passage) (domain.Passage, bool) {
	if idx, ok := s.byID[p.ID]; ok && p.ID != "" {
		return s.passages[idx], true
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return domain.Passage{}, false
	}
	if idx, ok := s.byText[p.Text]; ok {
		return s.passages[idx], true
	}
	for _, candidate := range s.passages {
		if strings.Contains(candidate.Text, text) || strings.Contains(text, candidate.Text) {
			return candidate, true
		}
	}
	prefix := truncateRunes(text, reconcilePrefixRunes)
	for _, candidate := range s.passages {
		if strings.HasPrefix(strings.TrimSpace(candidate.Text), prefix) {
			return candidate, true
		}
	}
	return domain.Passage{}, false
}

// ResolveCitation derives display metadata. A passage without a source file is
// labelled with a preview of its own text so the source list is never empty.
func (s *MetadataStore) ResolveCitation(p domain.Passage) domain.Citation {
	p = s.Reconcile(p)
	applyOCRLabel(&p)

	collapsed := collapseWhitespace(p.Text)
	label := strings.TrimSpace(p.SourceFile)
	if _, placeholder := placeholderSources[strings.ToLower(label)]; placeholder || label == "" {
		label = previewWithEllipsis(collapsed, sourceLabelPreviewRunes)
	}
	if label == "" {
		label = unknownSourceLabel
	}

	citation := domain.Citation{
		SourceLabel: label,
		Preview:     previewWithEllipsis(collapsed, citationPreviewRunes),
	}
	if p.Page != nil {
		citation.Page = domain.IntPtr(*p.Page)
	}
	if p.ChunkCount > 0 {
		citation.ChunkIndex = p.ChunkIndex
		citation.ChunkCount = p.ChunkCount
	}
	return citation
}

// applyOCRLabel reads page and chunk position from labels such as
// "OCR_page_12_text_ch2of5" when the passage does not carry them.
func applyOCRLabel(p *domain.Passage) {
	m := ocrSourcePattern.FindStringSubmatch(p.SourceFile)
	if m == nil {
		return
	}
	if p.Page == nil {
		if page, err := strconv.Atoi(m[1]); err == nil {
			p.Page = domain.IntPtr(page)
		}
	}
	if p.Kind == "" {
		p.Kind = m[2]
	}
	if p.ChunkCount == 0 && m[3] != "" && m[4] != "" {
		idx, errIdx := strconv.Atoi(m[3])
		count, errCount := strconv.Atoi(m[4])
		if errIdx == nil && errCount == nil && count > 0 {
			p.ChunkIndex = idx
			p.ChunkCount = count
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func previewWithEllipsis(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return truncateRunes(s, limit) + "..."
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
