package domain

import (
	"testing"
	"time"
)

func TestNewRetrievalConfigFillsDefaults(t *testing.T) {
	cfg, err := NewRetrievalConfig(RetrievalConfig{
		VectorWeight:  1,
		KeywordWeight: 0,
		RRFK:          60,
		TopK:          8,
	})
	if err != nil {
		t.Fatalf("NewRetrievalConfig() error = %v", err)
	}
	if cfg.RerankTopN != 8 {
		t.Fatalf("expected rerank top n to default to top k, got %d", cfg.RerankTopN)
	}
	if cfg.DisplayCount != 8 {
		t.Fatalf("expected display count to default to top k, got %d", cfg.DisplayCount)
	}
	if cfg.RerankerModel != DefaultRerankerModel {
		t.Fatalf("expected default reranker model, got %q", cfg.RerankerModel)
	}
	if cfg.RerankTimeout != DefaultRerankTimeout {
		t.Fatalf("expected default rerank timeout, got %s", cfg.RerankTimeout)
	}
}

func TestNewRetrievalConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]RetrievalConfig{
		"negative weight": {VectorWeight: -1, KeywordWeight: 1, RRFK: 20, TopK: 5},
		"zero weights":    {VectorWeight: 0, KeywordWeight: 0, RRFK: 20, TopK: 5},
		"zero rrf k":      {VectorWeight: 1, KeywordWeight: 1, RRFK: 0, TopK: 5},
		"zero top k":      {VectorWeight: 1, KeywordWeight: 1, RRFK: 20, TopK: 0},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRetrievalConfig(cfg)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !IsKind(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestDefaultRetrievalConfigIsValid(t *testing.T) {
	cfg := DefaultRetrievalConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RRFK != 20 || cfg.SimilarityThreshold != 0.3 || cfg.RerankTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestCitationPageLabel(t *testing.T) {
	if got := (Citation{}).PageLabel(); got != UnknownPage {
		t.Fatalf("expected %q, got %q", UnknownPage, got)
	}
	if got := (Citation{Page: IntPtr(3)}).PageLabel(); got != "3" {
		t.Fatalf("expected page 3, got %q", got)
	}
}

func TestCheckRequestCount(t *testing.T) {
	for _, v := range []int{1, MaxRequestCount} {
		if err := CheckRequestCount("top_k", v); err != nil {
			t.Fatalf("CheckRequestCount(%d) error = %v", v, err)
		}
	}
	for _, v := range []int{0, -1, MaxRequestCount + 1, 1_000_000_000} {
		if err := CheckRequestCount("top_k", v); !IsKind(err, ErrInvalidInput) {
			t.Fatalf("CheckRequestCount(%d) expected invalid input, got %v", v, err)
		}
	}
}
