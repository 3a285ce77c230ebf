package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

// RerankObserver receives the outcome of every rerank attempt.
type RerankObserver interface {
	ObserveRerank(outcome string)
}

const (
	RerankOutcomeApplied  = "applied"
	RerankOutcomeSkipped  = "skipped"
	RerankOutcomeFallback = "fallback"
)

// RerankStage re-scores the head of the fused list with an external service.
// A nil scorer means the capability is off (no credential) and the stage
// passes results through untouched.
type RerankStage struct {
	scorer   ports.RelevanceScorer
	observer RerankObserver
	logger   *slog.Logger
}

func NewRerankStage(scorer ports.RelevanceScorer, observer RerankObserver, logger *slog.Logger) *RerankStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RerankStage{scorer: scorer, observer: observer, logger: logger}
}

func (s *RerankStage) Enabled(cfg domain.RetrievalConfig) bool {
	return s != nil && s.scorer != nil && cfg.EnableReranking
}

// Rerank returns the same membership as fused. The boolean reports whether
// the external order was applied.
func (s *RerankStage) Rerank(
	ctx context.Context,
	query string,
	fused []domain.FusedResult,
	cfg domain.RetrievalConfig,
) ([]domain.FusedResult, bool) {
	if len(fused) == 0 || !s.Enabled(cfg) {
		s.observe(RerankOutcomeSkipped)
		return fused, false
	}

	topN := cfg.RerankTopN
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	callCtx := ctx
	if cfg.RerankTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.RerankTimeout)
		defer cancel()
	}

	reordered, err := s.rerankHead(callCtx, query, fused[:topN], cfg.RerankerModel)
	if err != nil {
		s.logger.Warn("rerank_fallback",
			"model", cfg.RerankerModel,
			"candidates", topN,
			"error", err,
		)
		s.observe(RerankOutcomeFallback)
		return fused, false
	}

	out := make([]domain.FusedResult, 0, len(fused))
	out = append(out, reordered...)
	out = append(out, fused[topN:]...)
	s.observe(RerankOutcomeApplied)
	return out, true
}

func (s *RerankStage) rerankHead(
	ctx context.Context,
	query string,
	head []domain.FusedResult,
	model string,
) ([]domain.FusedResult, error) {
	texts := make([]string, len(head))
	for i, r := range head {
		texts[i] = r.Passage.Text
	}

	scores, err := s.scorer.Score(ctx, model, query, texts)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRerankFailure, "score candidates", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrRerankFailure, "score candidates", err)
	}
	if len(scores) != len(head) {
		return nil, domain.WrapError(
			domain.ErrRerankFailure,
			"score candidates",
			fmt.Errorf("scores/candidates mismatch: %d/%d", len(scores), len(head)),
		)
	}

	out := make([]domain.FusedResult, len(head))
	copy(out, head)
	for i := range out {
		score := scores[i]
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}
		out[i].RerankScore = &score
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	return out, nil
}

func (s *RerankStage) observe(outcome string) {
	if s != nil && s.observer != nil {
		s.observer.ObserveRerank(outcome)
	}
}
