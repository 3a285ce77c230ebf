package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

type scorerFake struct {
	scores []float64
	err    error
	delay  time.Duration
	calls  int
	texts  []string
	model  string
}

func (f *scorerFake) Score(ctx context.Context, model, _ string, texts []string) ([]float64, error) {
	f.calls++
	f.texts = texts
	f.model = model
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type rerankObserverFake struct {
	outcomes []string
}

func (f *rerankObserverFake) ObserveRerank(outcome string) {
	f.outcomes = append(f.outcomes, outcome)
}

func fusedList(ids ...string) []domain.FusedResult {
	out := make([]domain.FusedResult, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.FusedResult{
			Passage:    domain.Passage{ID: id, Text: "text " + id},
			Score:      1 / float64(i+1),
			VectorRank: i + 1,
		})
	}
	return out
}

func rerankConfig(topN int, timeout time.Duration) domain.RetrievalConfig {
	cfg := domain.DefaultRetrievalConfig()
	cfg.EnableReranking = true
	cfg.RerankTopN = topN
	cfg.RerankTimeout = timeout
	return cfg
}

func TestRerankStageReordersHeadByServiceScores(t *testing.T) {
	scorer := &scorerFake{scores: []float64{0.1, 0.9, 0.5}}
	observer := &rerankObserverFake{}
	stage := NewRerankStage(scorer, observer, nil)

	out, applied := stage.Rerank(context.Background(), "q", fusedList("a", "b", "c", "d"), rerankConfig(3, time.Second))
	if !applied {
		t.Fatalf("expected rerank to be applied")
	}
	want := []string{"b", "c", "a", "d"}
	if got := fusedIDs(out); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if out[0].RerankScore == nil || *out[0].RerankScore != 0.9 {
		t.Fatalf("expected rerank score on head, got %+v", out[0].RerankScore)
	}
	if out[3].RerankScore != nil {
		t.Fatalf("expected tail untouched, got %+v", out[3])
	}
	if len(scorer.texts) != 3 || scorer.texts[0] != "text a" {
		t.Fatalf("expected candidate texts to be sent, got %v", scorer.texts)
	}
	if scorer.model != domain.DefaultRerankerModel {
		t.Fatalf("expected reranker model to be forwarded, got %q", scorer.model)
	}
	if len(observer.outcomes) != 1 || observer.outcomes[0] != RerankOutcomeApplied {
		t.Fatalf("unexpected outcomes: %v", observer.outcomes)
	}
}

func TestRerankStageFallsBackOnTimeout(t *testing.T) {
	scorer := &scorerFake{scores: []float64{0.1, 0.9}, delay: 200 * time.Millisecond}
	observer := &rerankObserverFake{}
	stage := NewRerankStage(scorer, observer, nil)
	fused := fusedList("a", "b")

	out, applied := stage.Rerank(context.Background(), "q", fused, rerankConfig(2, 10*time.Millisecond))
	if applied {
		t.Fatalf("expected fallback on timeout")
	}
	if fmt.Sprint(fusedIDs(out)) != fmt.Sprint(fusedIDs(fused)) {
		t.Fatalf("expected fused order preserved, got %v", fusedIDs(out))
	}
	if observer.outcomes[0] != RerankOutcomeFallback {
		t.Fatalf("expected fallback outcome, got %v", observer.outcomes)
	}
}

func TestRerankStageFallsBackOnServiceError(t *testing.T) {
	stage := NewRerankStage(&scorerFake{err: errors.New("503 upstream")}, nil, nil)
	fused := fusedList("a", "b", "c")

	out, applied := stage.Rerank(context.Background(), "q", fused, rerankConfig(3, time.Second))
	if applied {
		t.Fatalf("expected fallback")
	}
	if fmt.Sprint(fusedIDs(out)) != "[a b c]" {
		t.Fatalf("expected fused order, got %v", fusedIDs(out))
	}
}

func TestRerankStageFallsBackOnScoreCountMismatch(t *testing.T) {
	stage := NewRerankStage(&scorerFake{scores: []float64{0.3}}, nil, nil)
	out, applied := stage.Rerank(context.Background(), "q", fusedList("a", "b"), rerankConfig(2, time.Second))
	if applied || fmt.Sprint(fusedIDs(out)) != "[a b]" {
		t.Fatalf("expected pass-through, got applied=%v order=%v", applied, fusedIDs(out))
	}
}

func TestRerankStagePassThroughWhenDisabled(t *testing.T) {
	scorer := &scorerFake{scores: []float64{0.1, 0.9}}
	stage := NewRerankStage(scorer, nil, nil)
	cfg := rerankConfig(2, time.Second)
	cfg.EnableReranking = false

	out, applied := stage.Rerank(context.Background(), "q", fusedList("a", "b"), cfg)
	if applied || scorer.calls != 0 {
		t.Fatalf("expected no scorer call when disabled, calls=%d", scorer.calls)
	}
	if fmt.Sprint(fusedIDs(out)) != "[a b]" {
		t.Fatalf("unexpected order %v", fusedIDs(out))
	}
}

func TestRerankStagePassThroughWithoutCredential(t *testing.T) {
	stage := NewRerankStage(nil, nil, nil)
	if stage.Enabled(rerankConfig(2, time.Second)) {
		t.Fatalf("expected stage disabled without scorer")
	}
	out, applied := stage.Rerank(context.Background(), "q", fusedList("a"), rerankConfig(2, time.Second))
	if applied || len(out) != 1 {
		t.Fatalf("expected pass-through, got %+v", out)
	}
}
