package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

// VectorRetriever is the dense channel: embed the query, search the index by
// cosine similarity and keep hits at or above the threshold.
type VectorRetriever struct {
	embedder ports.Embedder
	index    ports.VectorIndex
}

func NewVectorRetriever(embedder ports.Embedder, index ports.VectorIndex) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, index: index}
}

func (r *VectorRetriever) Search(
	ctx context.Context,
	query string,
	topK int,
	threshold float64,
) ([]domain.RankedCandidate, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.RankedCandidate{}, nil
	}
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	if r.embedder == nil || r.index == nil {
		return nil, domain.WrapError(domain.ErrChannelUnavailable, "vector search", errors.New("vector channel is not configured"))
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrChannelUnavailable, "embed query", err)
	}
	if len(queryVector) == 0 {
		return nil, domain.WrapError(domain.ErrChannelUnavailable, "embed query", errors.New("empty query embedding"))
	}

	hits, err := r.index.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, domain.WrapError(domain.ErrChannelUnavailable, "search vector index", err)
	}

	out := make([]domain.RankedCandidate, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < threshold {
			continue
		}
		if len(out) == topK {
			break
		}
		out = append(out, domain.RankedCandidate{
			Passage: hit.Passage,
			Score:   hit.Similarity,
			Rank:    len(out) + 1,
		})
	}
	return out, nil
}
