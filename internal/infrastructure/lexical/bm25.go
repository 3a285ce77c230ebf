package lexical

import (
	"math"
	"sort"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

type posting struct {
	doc int
	tf  int
}

// Index is an Okapi BM25 index built once over the whole corpus and never
// mutated afterwards, so concurrent Search calls need no locking.
type Index struct {
	analyzer *Analyzer
	passages []domain.Passage
	docLen   []int
	avgLen   float64
	postings map[string][]posting
	k1       float64
	b        float64
}

// Build tokenizes every passage. Passages without terms still count towards
// the corpus size.
func Build(passages []domain.Passage, analyzer *Analyzer) *Index {
	if analyzer == nil {
		analyzer = NewAnalyzer(nil, nil)
	}
	idx := &Index{
		analyzer: analyzer,
		passages: make([]domain.Passage, len(passages)),
		docLen:   make([]int, len(passages)),
		postings: make(map[string][]posting),
		k1:       DefaultK1,
		b:        DefaultB,
	}
	copy(idx.passages, passages)

	total := 0
	for i, p := range passages {
		terms := analyzer.Tokens(p.Text)
		idx.docLen[i] = len(terms)
		total += len(terms)

		tf := make(map[string]int, len(terms))
		order := make([]string, 0, len(terms))
		for _, term := range terms {
			if tf[term] == 0 {
				order = append(order, term)
			}
			tf[term]++
		}
		for _, term := range order {
			idx.postings[term] = append(idx.postings[term], posting{doc: i, tf: tf[term]})
		}
	}
	if len(passages) > 0 {
		idx.avgLen = float64(total) / float64(len(passages))
	}
	return idx
}

func (idx *Index) Size() int {
	return len(idx.passages)
}

// idf uses the non-negative Lucene form so a term present in most passages
// still contributes a small positive weight.
func (idx *Index) idf(df int) float64 {
	n := float64(len(idx.passages))
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

// Search returns passages with a positive score, best first. Ties keep
// corpus order.
func (idx *Index) Search(query string, limit int) []ports.KeywordHit {
	if idx == nil || len(idx.passages) == 0 || limit <= 0 {
		return []ports.KeywordHit{}
	}

	terms := uniqueTerms(idx.analyzer.Tokens(query))
	if len(terms) == 0 {
		return []ports.KeywordHit{}
	}

	scores := make(map[int]float64)
	for _, term := range terms {
		list := idx.postings[term]
		if len(list) == 0 {
			continue
		}
		weight := idx.idf(len(list))
		for _, p := range list {
			scores[p.doc] += weight * idx.termScore(p.tf, idx.docLen[p.doc])
		}
	}

	hits := make([]ports.KeywordHit, 0, len(scores))
	docs := make([]int, 0, len(scores))
	for doc, score := range scores {
		if score > 0 {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		si, sj := scores[docs[i]], scores[docs[j]]
		if si != sj {
			return si > sj
		}
		return docs[i] < docs[j]
	})
	for _, doc := range docs {
		if len(hits) == limit {
			break
		}
		hits = append(hits, ports.KeywordHit{Passage: idx.passages[doc], Score: scores[doc]})
	}
	return hits
}

func (idx *Index) termScore(tf, docLen int) float64 {
	norm := 1.0
	if idx.avgLen > 0 {
		norm = 1 - idx.b + idx.b*float64(docLen)/idx.avgLen
	}
	f := float64(tf)
	return f * (idx.k1 + 1) / (f + idx.k1*norm)
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
