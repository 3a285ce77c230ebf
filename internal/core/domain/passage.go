package domain

// Passage is one indexable text unit of a corpus snapshot.
type Passage struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SourceFile  string    `json:"source_file,omitempty"`
	Page        *int      `json:"page,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	RecordIndex int       `json:"record_index"`
	ChunkIndex  int       `json:"chunk_index"`
	ChunkCount  int       `json:"chunk_count"`
	Embedding   []float32 `json:"-"`
}

func (p Passage) HasPage() bool {
	return p.Page != nil
}

// IntPtr is a helper for optional integer fields.
func IntPtr(v int) *int {
	return &v
}

type Channel string

const (
	ChannelVector  Channel = "vector"
	ChannelKeyword Channel = "keyword"
)

// RankedCandidate is a passage as returned by a single retrieval channel.
// Score is on the channel's own scale; Rank is 1-based.
type RankedCandidate struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// FusedResult is a passage after rank fusion. A zero rank means the passage
// was not surfaced by that channel.
type FusedResult struct {
	Passage     Passage   `json:"passage"`
	Score       float64   `json:"score"`
	VectorRank  int       `json:"vector_rank,omitempty"`
	KeywordRank int       `json:"keyword_rank,omitempty"`
	RerankScore *float64  `json:"rerank_score,omitempty"`
	Channels    []Channel `json:"channels"`
}

func (r FusedResult) InBothChannels() bool {
	return r.VectorRank > 0 && r.KeywordRank > 0
}
