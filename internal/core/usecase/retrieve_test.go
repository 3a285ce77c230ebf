package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

type channelFake struct {
	candidates []domain.RankedCandidate
	err        error
	calls      int
	topK       int
	threshold  float64
}

func (f *channelFake) Search(_ context.Context, _ string, topK int, threshold float64) ([]domain.RankedCandidate, error) {
	f.calls++
	f.topK = topK
	f.threshold = threshold
	return f.candidates, f.err
}

type keywordChannelFake struct {
	candidates []domain.RankedCandidate
	err        error
}

func (f *keywordChannelFake) Search(context.Context, string, int) ([]domain.RankedCandidate, error) {
	return f.candidates, f.err
}

type retrievalObserverFake struct {
	mu       sync.Mutex
	channels map[domain.Channel]error
	statuses []domain.RetrievalStatus
}

func (f *retrievalObserverFake) ObserveChannel(channel domain.Channel, _ int, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channels == nil {
		f.channels = map[domain.Channel]error{}
	}
	f.channels[channel] = err
}

func (f *retrievalObserverFake) ObserveRetrieval(status domain.RetrievalStatus, _ time.Duration, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func itemIDs(items []domain.RetrievedPassage) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Result.Passage.ID)
	}
	return out
}

func retrieveConfig() domain.RetrievalConfig {
	cfg := domain.DefaultRetrievalConfig()
	cfg.EnableReranking = false
	cfg.DisplayCount = 5
	return cfg
}

func TestRetrieveUseCaseFusesBothChannels(t *testing.T) {
	apple := domain.Passage{ID: "1", Text: "apple pie recipe", SourceFile: "a.pdf", Page: domain.IntPtr(2)}
	banana := domain.Passage{ID: "2", Text: "banana bread recipe", SourceFile: "a.pdf", Page: domain.IntPtr(3)}
	vector := &channelFake{candidates: []domain.RankedCandidate{
		{Passage: apple, Score: 0.82, Rank: 1},
		{Passage: banana, Score: 0.61, Rank: 2},
	}}
	keyword := &keywordChannelFake{candidates: []domain.RankedCandidate{{Passage: apple, Score: 0.69, Rank: 1}}}
	observer := &retrievalObserverFake{}
	uc := NewRetrieveUseCase(vector, keyword, nil, NewMetadataStore([]domain.Passage{apple, banana}), observer, nil)

	result, err := uc.Retrieve(context.Background(), "apple dessert", retrieveConfig())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if fmt.Sprint(itemIDs(result.Items)) != "[1 2]" {
		t.Fatalf("expected [1 2], got %v", itemIDs(result.Items))
	}
	if result.Items[0].Result.Score <= result.Items[1].Result.Score {
		t.Fatalf("expected passage 1 to outscore passage 2")
	}
	if result.Items[0].Citation.SourceLabel != "a.pdf" || result.Items[0].Citation.PageLabel() != "2" {
		t.Fatalf("unexpected citation %+v", result.Items[0].Citation)
	}
	if result.VectorCount != 2 || result.KeywordCount != 1 || result.Status != domain.StatusOK {
		t.Fatalf("unexpected stats %+v", result)
	}
	if *result.VectorTopScore != 0.82 || *result.KeywordTopScore != 0.69 {
		t.Fatalf("unexpected top scores %v %v", *result.VectorTopScore, *result.KeywordTopScore)
	}
	if vector.topK != domain.DefaultTopK || vector.threshold != domain.DefaultSimilarityThreshold {
		t.Fatalf("expected config forwarded to vector channel, got topK=%d threshold=%v", vector.topK, vector.threshold)
	}
	if len(observer.statuses) != 1 || observer.statuses[0] != domain.StatusOK {
		t.Fatalf("unexpected observed statuses %v", observer.statuses)
	}
}

func TestRetrieveUseCaseDegradesWhenVectorChannelFails(t *testing.T) {
	vector := &channelFake{err: domain.WrapError(domain.ErrChannelUnavailable, "embed query", errors.New("timeout"))}
	keyword := &keywordChannelFake{candidates: rankedList("k1", "k2", "k3")}
	uc := NewRetrieveUseCase(vector, keyword, nil, nil, nil, nil)

	result, err := uc.Retrieve(context.Background(), "q", retrieveConfig())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if fmt.Sprint(itemIDs(result.Items)) != "[k1 k2 k3]" {
		t.Fatalf("expected keyword order, got %v", itemIDs(result.Items))
	}
	if len(result.DegradedChannels) != 1 || result.DegradedChannels[0] != domain.ChannelVector {
		t.Fatalf("expected vector channel degraded, got %v", result.DegradedChannels)
	}
}

func TestRetrieveUseCaseFailsWhenBothChannelsFail(t *testing.T) {
	vector := &channelFake{err: errors.New("vector down")}
	keyword := &keywordChannelFake{err: errors.New("keyword down")}
	observer := &retrievalObserverFake{}
	uc := NewRetrieveUseCase(vector, keyword, nil, nil, observer, nil)

	_, err := uc.Retrieve(context.Background(), "q", retrieveConfig())
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected retrieval unavailable, got %v", err)
	}
	if len(observer.statuses) != 1 || observer.statuses[0] != domain.StatusError {
		t.Fatalf("expected error status observed, got %v", observer.statuses)
	}
}

func TestRetrieveUseCaseObservesInvalidQueryAsError(t *testing.T) {
	observer := &retrievalObserverFake{}
	uc := NewRetrieveUseCase(&channelFake{}, &keywordChannelFake{}, nil, nil, observer, nil)

	if _, err := uc.Retrieve(context.Background(), "   ", retrieveConfig()); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(observer.statuses) != 1 || observer.statuses[0] != domain.StatusError {
		t.Fatalf("expected error status observed, got %v", observer.statuses)
	}
}

func TestRetrieveUseCaseReportsNoCandidates(t *testing.T) {
	observer := &retrievalObserverFake{}
	uc := NewRetrieveUseCase(&channelFake{}, &keywordChannelFake{}, nil, nil, observer, nil)

	result, err := uc.Retrieve(context.Background(), "q", retrieveConfig())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !result.Empty() || len(result.Items) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if observer.statuses[0] != domain.StatusNoCandidates {
		t.Fatalf("expected no_candidates status observed, got %v", observer.statuses)
	}
}

func TestRetrieveUseCaseTruncatesToDisplayCount(t *testing.T) {
	uc := NewRetrieveUseCase(&channelFake{candidates: rankedList("a", "b", "c", "d")}, &keywordChannelFake{}, nil, nil, nil, nil)
	cfg := retrieveConfig()
	cfg.DisplayCount = 2

	result, err := uc.Retrieve(context.Background(), "q", cfg)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if fmt.Sprint(itemIDs(result.Items)) != "[a b]" {
		t.Fatalf("expected [a b], got %v", itemIDs(result.Items))
	}
}

func TestRetrieveUseCaseRerankFailureKeepsFusedOrder(t *testing.T) {
	vector := &channelFake{candidates: rankedList("a", "b", "c")}
	keyword := &keywordChannelFake{candidates: rankedList("c", "b")}
	cfg := retrieveConfig()

	baseline, err := NewRetrieveUseCase(vector, keyword, nil, nil, nil, nil).Retrieve(context.Background(), "q", cfg)
	if err != nil {
		t.Fatalf("baseline Retrieve() error = %v", err)
	}

	cfg.EnableReranking = true
	cfg.RerankTimeout = 10 * time.Millisecond
	stage := NewRerankStage(&scorerFake{scores: []float64{0.1, 0.2, 0.3}, delay: time.Second}, nil, nil)
	result, err := NewRetrieveUseCase(vector, keyword, stage, nil, nil, nil).Retrieve(context.Background(), "q", cfg)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if result.Reranked {
		t.Fatalf("expected rerank fallback")
	}
	if fmt.Sprint(itemIDs(result.Items)) != fmt.Sprint(itemIDs(baseline.Items)) {
		t.Fatalf("expected fused order %v, got %v", itemIDs(baseline.Items), itemIDs(result.Items))
	}
}

func TestRetrieveUseCaseAppliesRerankOrder(t *testing.T) {
	vector := &channelFake{candidates: rankedList("a", "b", "c")}
	cfg := retrieveConfig()
	cfg.EnableReranking = true
	cfg.RerankTopN = 3
	stage := NewRerankStage(&scorerFake{scores: []float64{0.1, 0.2, 0.9}}, nil, nil)

	result, err := NewRetrieveUseCase(vector, &keywordChannelFake{}, stage, nil, nil, nil).Retrieve(context.Background(), "q", cfg)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !result.Reranked || fmt.Sprint(itemIDs(result.Items)) != "[c b a]" {
		t.Fatalf("expected reranked [c b a], got reranked=%v %v", result.Reranked, itemIDs(result.Items))
	}
}

func TestRetrieveUseCaseRejectsBlankQueryAndInvalidConfig(t *testing.T) {
	uc := NewRetrieveUseCase(&channelFake{}, &keywordChannelFake{}, nil, nil, nil, nil)
	if _, err := uc.Retrieve(context.Background(), "   ", retrieveConfig()); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	cfg := retrieveConfig()
	cfg.VectorWeight, cfg.KeywordWeight = 0, 0
	if _, err := uc.Retrieve(context.Background(), "q", cfg); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRetrieveUseCaseFillsCitationFromStoreForPayloadWithoutMetadata(t *testing.T) {
	store := NewMetadataStore([]domain.Passage{
		{ID: "p1", Text: "first", SourceFile: "book.pdf", Page: domain.IntPtr(3)},
		{ID: "p2", Text: "second", SourceFile: "book.pdf"},
	})
	vector := &channelFake{candidates: []domain.RankedCandidate{{Passage: domain.Passage{ID: "p2", Text: "second"}, Score: 0.9, Rank: 1}}}

	result, err := NewRetrieveUseCase(vector, &keywordChannelFake{}, nil, store, nil, nil).Retrieve(context.Background(), "q", retrieveConfig())
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	citation := result.Items[0].Citation
	if citation.SourceLabel != "book.pdf" || citation.PageLabel() != "3" {
		t.Fatalf("expected book.pdf page 3, got %+v", citation)
	}
}
