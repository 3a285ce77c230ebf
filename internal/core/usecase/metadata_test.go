package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

func TestMetadataStoreCarriesPageForwardWithinSource(t *testing.T) {
	store := NewMetadataStore([]domain.Passage{
		{ID: "1", Text: "intro", SourceFile: "a.pdf", Page: domain.IntPtr(3)},
		{ID: "2", Text: "continued", SourceFile: "a.pdf"},
		{ID: "3", Text: "other file", SourceFile: "b.pdf"},
	})

	p, ok := store.Lookup("2")
	if !ok {
		t.Fatalf("expected passage 2 in store")
	}
	citation := store.ResolveCitation(p)
	if citation.PageLabel() != "3" {
		t.Fatalf("expected carried page 3, got %s", citation.PageLabel())
	}

	other, _ := store.Lookup("3")
	if got := store.ResolveCitation(other).PageLabel(); got != domain.UnknownPage {
		t.Fatalf("expected unknown page for other source, got %s", got)
	}
}

func TestMetadataStoreDoesNotCarryPageWithoutSource(t *testing.T) {
	store := NewMetadataStore([]domain.Passage{
		{ID: "1", Text: "first", Page: domain.IntPtr(4)},
		{ID: "2", Text: "second"},
	})
	p, _ := store.Lookup("2")
	if p.Page != nil {
		t.Fatalf("expected no page without a source file, got %d", *p.Page)
	}
}

func TestMetadataStoreParsesOCRSourceLabels(t *testing.T) {
	store := NewMetadataStore([]domain.Passage{
		{ID: "1", Text: "scanned", SourceFile: "OCR_page_12_text_ch2of5"},
	})
	p, _ := store.Lookup("1")
	citation := store.ResolveCitation(p)
	if citation.PageLabel() != "12" {
		t.Fatalf("expected page 12, got %s", citation.PageLabel())
	}
	if citation.ChunkIndex != 2 || citation.ChunkCount != 5 {
		t.Fatalf("expected chunk 2/5, got %d/%d", citation.ChunkIndex, citation.ChunkCount)
	}
	if p.Kind != "text" {
		t.Fatalf("expected kind text, got %q", p.Kind)
	}
}

func TestResolveCitationFallsBackToTextPreview(t *testing.T) {
	text := strings.Repeat("word ", 40)
	store := NewMetadataStore(nil)
	citation := store.ResolveCitation(domain.Passage{ID: "x", Text: text})

	if citation.SourceLabel == "" {
		t.Fatalf("expected non-empty source label")
	}
	if !strings.HasSuffix(citation.SourceLabel, "...") {
		t.Fatalf("expected truncated preview label, got %q", citation.SourceLabel)
	}
	if got := len([]rune(strings.TrimSuffix(citation.SourceLabel, "..."))); got != sourceLabelPreviewRunes {
		t.Fatalf("expected %d-rune label, got %d", sourceLabelPreviewRunes, got)
	}
	if strings.Contains(citation.SourceLabel, "  ") {
		t.Fatalf("expected collapsed whitespace, got %q", citation.SourceLabel)
	}
	if citation.PageLabel() != domain.UnknownPage {
		t.Fatalf("expected unknown page, got %s", citation.PageLabel())
	}
}

func TestResolveCitationShortTextHasNoEllipsis(t *testing.T) {
	citation := NewMetadataStore(nil).ResolveCitation(domain.Passage{Text: "苹果派  的做法"})
	if citation.SourceLabel != "苹果派 的做法" {
		t.Fatalf("unexpected label %q", citation.SourceLabel)
	}
}

func TestReconcileFillsMetadataFromCorpus(t *testing.T) {
	long := strings.Repeat("长文本", 60)
	store := NewMetadataStore([]domain.Passage{
		{ID: "1", Text: "apple pie recipe with cinnamon", SourceFile: "a.pdf", Page: domain.IntPtr(2)},
		{ID: "2", Text: long, SourceFile: "b.pdf", Page: domain.IntPtr(9)},
	})

	cases := []struct {
		name string
		in   domain.Passage
		want string
	}{
		{name: "by id", in: domain.Passage{ID: "1", Text: "whatever"}, want: "a.pdf"},
		{name: "exact text", in: domain.Passage{ID: "q", Text: "apple pie recipe with cinnamon"}, want: "a.pdf"},
		{name: "containment", in: domain.Passage{ID: "q", Text: "pie recipe"}, want: "a.pdf"},
		{name: "prefix", in: domain.Passage{ID: "q", Text: long[:len(long)-3] + "尾巴"}, want: "b.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := store.Reconcile(tc.in)
			if got.SourceFile != tc.want {
				t.Fatalf("expected source %q, got %q", tc.want, got.SourceFile)
			}
			if got.Page == nil {
				t.Fatalf("expected page to be filled")
			}
		})
	}
}

func TestNewMetadataStoreSkipsEmptyAndDuplicateIDs(t *testing.T) {
	store := NewMetadataStore([]domain.Passage{
		{ID: "1", Text: "one"},
		{ID: "2", Text: "   "},
		{ID: "1", Text: "one again"},
	})
	if store.Len() != 1 {
		t.Fatalf("expected 1 passage, got %d", store.Len())
	}
}
