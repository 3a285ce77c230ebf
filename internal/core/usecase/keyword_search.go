package usecase

import (
	"context"
	"errors"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

// KeywordRetriever is the sparse channel over a prebuilt lexical index.
type KeywordRetriever struct {
	index ports.KeywordIndex
}

func NewKeywordRetriever(index ports.KeywordIndex) *KeywordRetriever {
	return &KeywordRetriever{index: index}
}

func (r *KeywordRetriever) Search(ctx context.Context, query string, topK int) ([]domain.RankedCandidate, error) {
	if r.index == nil {
		return nil, domain.WrapError(domain.ErrChannelUnavailable, "keyword search", errors.New("keyword index is not built"))
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrChannelUnavailable, "keyword search", err)
	}
	if topK <= 0 {
		topK = domain.DefaultTopK
	}

	hits := r.index.Search(query, topK)
	out := make([]domain.RankedCandidate, 0, len(hits))
	for _, hit := range hits {
		if hit.Score <= 0 {
			continue
		}
		out = append(out, domain.RankedCandidate{
			Passage: hit.Passage,
			Score:   hit.Score,
			Rank:    len(out) + 1,
		})
	}
	return out, nil
}
