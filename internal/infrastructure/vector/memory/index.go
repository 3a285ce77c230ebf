package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

// Index is an exact cosine-similarity index kept in process memory. It backs
// local runs and tests where no Qdrant instance is available.
type Index struct {
	mu         sync.RWMutex
	vectorSize int
	order      []string
	passages   map[string]domain.Passage
	norms      map[string]float64
}

func NewIndex() *Index {
	return &Index{
		passages: make(map[string]domain.Passage),
		norms:    make(map[string]float64),
	}
}

func (i *Index) EnsureCollection(_ context.Context, vectorSize int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if vectorSize <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "memory ensure collection", fmt.Errorf("vector size must be > 0"))
	}
	if i.vectorSize != 0 && i.vectorSize != vectorSize {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"memory ensure collection",
			fmt.Errorf("vector size mismatch: have %d, got %d", i.vectorSize, vectorSize),
		)
	}
	i.vectorSize = vectorSize
	return nil
}

func (i *Index) Upsert(_ context.Context, passages []domain.Passage) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, p := range passages {
		if p.ID == "" {
			continue
		}
		if i.vectorSize != 0 && len(p.Embedding) != i.vectorSize {
			return domain.WrapError(
				domain.ErrInvalidInput,
				"memory upsert",
				fmt.Errorf("passage %s: vector size %d, want %d", p.ID, len(p.Embedding), i.vectorSize),
			)
		}
		if _, exists := i.passages[p.ID]; !exists {
			i.order = append(i.order, p.ID)
		}
		i.passages[p.ID] = p
		i.norms[p.ID] = norm(p.Embedding)
	}
	return nil
}

func (i *Index) Delete(_ context.Context, ids []string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := i.passages[id]; !ok {
			continue
		}
		delete(i.passages, id)
		delete(i.norms, id)
		removed[id] = struct{}{}
	}
	if len(removed) == 0 {
		return nil
	}
	kept := i.order[:0]
	for _, id := range i.order {
		if _, ok := removed[id]; !ok {
			kept = append(kept, id)
		}
	}
	i.order = kept
	return nil
}

// Search ranks every stored passage by cosine similarity. Equal scores keep
// insertion order.
func (i *Index) Search(_ context.Context, queryVector []float32, limit int) ([]ports.VectorHit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if limit <= 0 {
		limit = domain.DefaultTopK
	}
	queryNorm := norm(queryVector)
	if queryNorm == 0 {
		return []ports.VectorHit{}, nil
	}

	hits := make([]ports.VectorHit, 0, len(i.order))
	for _, id := range i.order {
		p := i.passages[id]
		if len(p.Embedding) != len(queryVector) || i.norms[id] == 0 {
			continue
		}
		hits = append(hits, ports.VectorHit{
			Passage:    withoutEmbedding(p),
			Similarity: dot(queryVector, p.Embedding) / (queryNorm * i.norms[id]),
		})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Similarity > hits[b].Similarity
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (i *Index) ListIDs(context.Context) ([]string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]string(nil), i.order...), nil
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.order)
}

func withoutEmbedding(p domain.Passage) domain.Passage {
	p.Embedding = nil
	return p
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
