package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

type vectorSearcher interface {
	Search(ctx context.Context, query string, topK int, threshold float64) ([]domain.RankedCandidate, error)
}

type keywordSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]domain.RankedCandidate, error)
}

// RetrievalObserver receives per-query channel and pipeline measurements.
type RetrievalObserver interface {
	ObserveChannel(channel domain.Channel, hits int, duration time.Duration, err error)
	ObserveRetrieval(status domain.RetrievalStatus, duration time.Duration, err error)
}

type RetrieveUseCase struct {
	vector   vectorSearcher
	keyword  keywordSearcher
	reranker *RerankStage
	store    *MetadataStore
	observer RetrievalObserver
	logger   *slog.Logger
}

func NewRetrieveUseCase(
	vector vectorSearcher,
	keyword keywordSearcher,
	reranker *RerankStage,
	store *MetadataStore,
	observer RetrievalObserver,
	logger *slog.Logger,
) *RetrieveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMetadataStore(nil)
	}
	return &RetrieveUseCase{
		vector:   vector,
		keyword:  keyword,
		reranker: reranker,
		store:    store,
		observer: observer,
		logger:   logger,
	}
}

type channelOutcome struct {
	candidates []domain.RankedCandidate
	err        error
}

func (uc *RetrieveUseCase) Retrieve(
	ctx context.Context,
	query string,
	cfg domain.RetrievalConfig,
) (*domain.RetrievalResult, error) {
	startedAt := time.Now()
	result, err := uc.retrieve(ctx, query, cfg)
	if uc.observer != nil {
		status := domain.StatusError
		if err == nil && result != nil {
			status = result.Status
		}
		uc.observer.ObserveRetrieval(status, time.Since(startedAt), err)
	}
	return result, err
}

func (uc *RetrieveUseCase) retrieve(
	ctx context.Context,
	query string,
	cfg domain.RetrievalConfig,
) (*domain.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	vectorOut, keywordOut := uc.searchChannels(ctx, query, cfg)

	result := &domain.RetrievalResult{Query: query, Status: domain.StatusOK, Items: []domain.RetrievedPassage{}}
	if vectorOut.err != nil {
		uc.logger.Warn("retrieval_channel_degraded", "channel", domain.ChannelVector, "error", vectorOut.err)
		result.DegradedChannels = append(result.DegradedChannels, domain.ChannelVector)
	}
	if keywordOut.err != nil {
		uc.logger.Warn("retrieval_channel_degraded", "channel", domain.ChannelKeyword, "error", keywordOut.err)
		result.DegradedChannels = append(result.DegradedChannels, domain.ChannelKeyword)
	}
	if vectorOut.err != nil && keywordOut.err != nil {
		return nil, domain.WrapError(
			domain.ErrRetrievalUnavailable,
			"retrieve",
			errors.Join(vectorOut.err, keywordOut.err),
		)
	}

	result.VectorCount = len(vectorOut.candidates)
	result.KeywordCount = len(keywordOut.candidates)
	result.VectorTopScore = topScore(vectorOut.candidates)
	result.KeywordTopScore = topScore(keywordOut.candidates)

	if result.VectorCount == 0 && result.KeywordCount == 0 {
		result.Status = domain.StatusNoCandidates
		return result, nil
	}

	fused := dedupeByPassageID(FuseWeightedRRF(vectorOut.candidates, keywordOut.candidates, cfg))
	if len(fused) > 0 {
		result.FusedTopScore = fused[0].Score
	}

	fused, result.Reranked = uc.reranker.Rerank(ctx, query, fused, cfg)
	fused = trimResults(fused, cfg.DisplayCount)

	result.Items = make([]domain.RetrievedPassage, 0, len(fused))
	for _, r := range fused {
		r.Passage = uc.store.Reconcile(r.Passage)
		result.Items = append(result.Items, domain.RetrievedPassage{
			Result:   r,
			Citation: uc.store.ResolveCitation(r.Passage),
		})
	}
	return result, nil
}

// searchChannels runs both channels concurrently. A failing channel never
// cancels the other one.
func (uc *RetrieveUseCase) searchChannels(
	ctx context.Context,
	query string,
	cfg domain.RetrievalConfig,
) (channelOutcome, channelOutcome) {
	var (
		g          errgroup.Group
		vectorOut  channelOutcome
		keywordOut channelOutcome
	)

	g.Go(func() error {
		startedAt := time.Now()
		if uc.vector == nil {
			vectorOut.err = domain.WrapError(domain.ErrChannelUnavailable, "vector search", errors.New("vector channel is not configured"))
		} else {
			vectorOut.candidates, vectorOut.err = uc.vector.Search(ctx, query, cfg.TopK, cfg.SimilarityThreshold)
		}
		uc.observeChannel(domain.ChannelVector, len(vectorOut.candidates), time.Since(startedAt), vectorOut.err)
		return nil
	})
	g.Go(func() error {
		startedAt := time.Now()
		if uc.keyword == nil {
			keywordOut.err = domain.WrapError(domain.ErrChannelUnavailable, "keyword search", errors.New("keyword channel is not configured"))
		} else {
			keywordOut.candidates, keywordOut.err = uc.keyword.Search(ctx, query, cfg.TopK)
		}
		uc.observeChannel(domain.ChannelKeyword, len(keywordOut.candidates), time.Since(startedAt), keywordOut.err)
		return nil
	})
	_ = g.Wait()

	if vectorOut.err != nil {
		vectorOut.candidates = nil
	}
	if keywordOut.err != nil {
		keywordOut.candidates = nil
	}
	return vectorOut, keywordOut
}

func (uc *RetrieveUseCase) observeChannel(channel domain.Channel, hits int, duration time.Duration, err error) {
	if uc.observer != nil {
		uc.observer.ObserveChannel(channel, hits, duration, err)
	}
}

func topScore(candidates []domain.RankedCandidate) *float64 {
	if len(candidates) == 0 {
		return nil
	}
	score := candidates[0].Score
	return &score
}
