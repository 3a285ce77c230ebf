package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

type fusedCandidate struct {
	result domain.FusedResult
	order  int
}

// FuseWeightedRRF merges the two channel lists with weighted Reciprocal Rank
// Fusion. Only ranks contribute; raw channel scores are ignored. A passage
// missing from a channel contributes nothing for that channel.
func FuseWeightedRRF(vector, keyword []domain.RankedCandidate, cfg domain.RetrievalConfig) []domain.FusedResult {
	k := cfg.RRFK
	if k <= 0 {
		k = domain.DefaultRRFK
	}

	acc := make(map[string]*fusedCandidate, len(vector)+len(keyword))
	order := 0
	addList := func(candidates []domain.RankedCandidate, channel domain.Channel, weight float64) {
		for i, candidate := range candidates {
			rank := candidate.Rank
			if rank <= 0 {
				rank = i + 1
			}
			id := candidate.Passage.ID
			c, ok := acc[id]
			if !ok {
				c = &fusedCandidate{
					result: domain.FusedResult{Passage: candidate.Passage},
					order:  order,
				}
				order++
				acc[id] = c
			}
			switch channel {
			case domain.ChannelVector:
				if c.result.VectorRank != 0 {
					continue
				}
				c.result.VectorRank = rank
			case domain.ChannelKeyword:
				if c.result.KeywordRank != 0 {
					continue
				}
				c.result.KeywordRank = rank
			}
			c.result.Passage = preferRicherPassage(c.result.Passage, candidate.Passage)
			c.result.Channels = append(c.result.Channels, channel)
			c.result.Score += weight / (k + float64(rank))
		}
	}

	addList(vector, domain.ChannelVector, cfg.VectorWeight)
	addList(keyword, domain.ChannelKeyword, cfg.KeywordWeight)

	ordered := make([]*fusedCandidate, 0, len(acc))
	for _, c := range acc {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.result.Score != b.result.Score {
			return a.result.Score > b.result.Score
		}
		if a.result.InBothChannels() != b.result.InBothChannels() {
			return a.result.InBothChannels()
		}
		if av, bv := vectorRankOrLast(a.result), vectorRankOrLast(b.result); av != bv {
			return av < bv
		}
		return a.order < b.order
	})

	out := make([]domain.FusedResult, 0, len(ordered))
	for _, c := range ordered {
		out = append(out, c.result)
	}
	return out
}

func vectorRankOrLast(r domain.FusedResult) int {
	if r.VectorRank <= 0 {
		return math.MaxInt
	}
	return r.VectorRank
}

func trimResults(results []domain.FusedResult, limit int) []domain.FusedResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

// dedupeByPassageID keeps the first occurrence of every passage.
func dedupeByPassageID(results []domain.FusedResult) []domain.FusedResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]domain.FusedResult, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Passage.ID]; ok {
			continue
		}
		seen[r.Passage.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// preferRicherPassage fills metadata the first channel's copy lacks. The
// vector payload may omit fields the corpus snapshot has, and vice versa.
func preferRicherPassage(current, candidate domain.Passage) domain.Passage {
	if current.ID == "" && current.Text == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.SourceFile == "" && candidate.SourceFile != "" {
		current.SourceFile = candidate.SourceFile
	}
	if current.Page == nil && candidate.Page != nil {
		current.Page = candidate.Page
	}
	if current.Kind == "" && candidate.Kind != "" {
		current.Kind = candidate.Kind
	}
	if current.ChunkCount == 0 && candidate.ChunkCount > 0 {
		current.ChunkIndex = candidate.ChunkIndex
		current.ChunkCount = candidate.ChunkCount
	}
	return current
}
