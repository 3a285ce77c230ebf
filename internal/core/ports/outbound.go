package ports

import (
	"context"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

// CorpusSource yields the ordered passages of one corpus snapshot.
type CorpusSource interface {
	Load(ctx context.Context, location string) ([]domain.Passage, error)
}

// PassageRepository persists corpus snapshots.
type PassageRepository interface {
	SavePassages(ctx context.Context, passages []domain.Passage) (int, error)
	ListPassages(ctx context.Context) ([]domain.Passage, error)
}

// Embedder builds vectors for passages and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorHit is a raw nearest-neighbour match. Similarity is cosine.
type VectorHit struct {
	Passage    domain.Passage
	Similarity float64
}

// VectorIndex is a persistent key -> (vector, payload) similarity index.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, vectorSize int) error
	Upsert(ctx context.Context, passages []domain.Passage) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, queryVector []float32, limit int) ([]VectorHit, error)
	// ListIDs returns the passage IDs currently stored.
	ListIDs(ctx context.Context) ([]string, error)
}

// RelevanceScorer is an external reranking service. It returns one score per
// candidate text, aligned with the input order.
type RelevanceScorer interface {
	Score(ctx context.Context, model, query string, texts []string) ([]float64, error)
}

// ChatCompleter is the answer-generation model.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// MessageQueue publishes/consumes corpus ingestion jobs.
type MessageQueue interface {
	PublishIngestJob(ctx context.Context, job IngestJob) error
	SubscribeIngestJobs(ctx context.Context, handler func(context.Context, IngestJob) error) error
}

type IngestJob struct {
	ID         string    `json:"id"`
	CorpusPath string    `json:"corpus_path"`
	EnqueuedAt time.Time `json:"enqueued_at,omitzero"`
}

// Splitter splits record text into passage-sized chunks.
type Splitter interface {
	Split(text string) []string
}

type KeywordHit struct {
	Passage domain.Passage
	Score   float64
}

// KeywordIndex is a sparse lexical index built once over the full corpus.
// Hits are ordered by descending score, ties by corpus order.
type KeywordIndex interface {
	Search(query string, limit int) []KeywordHit
	Size() int
}
