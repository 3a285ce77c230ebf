package ports

import (
	"context"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

// Retriever is the inbound contract of the retrieval orchestrator.
type Retriever interface {
	Retrieve(ctx context.Context, query string, cfg domain.RetrievalConfig) (*domain.RetrievalResult, error)
}

// QuestionAnswerer retrieves context and synthesizes a grounded answer.
type QuestionAnswerer interface {
	Answer(ctx context.Context, question string) (*domain.Answer, error)
}

// CorpusIngestor builds the vector index and passage snapshot from a corpus file.
type CorpusIngestor interface {
	IngestFile(ctx context.Context, corpusPath string) (IngestReport, error)
}

type IngestReport struct {
	Passages  int `json:"passages"`
	Indexed   int `json:"indexed"`
	Persisted int `json:"persisted"`
	Removed   int `json:"removed"`
}
