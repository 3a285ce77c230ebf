package domain

import "strconv"

const UnknownPage = "unknown"

// Citation is display metadata derived from a passage for one answer.
type Citation struct {
	SourceLabel string `json:"source"`
	Page        *int   `json:"page,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	ChunkCount  int    `json:"chunk_count,omitempty"`
	Preview     string `json:"preview"`
}

func (c Citation) PageLabel() string {
	if c.Page == nil {
		return UnknownPage
	}
	return strconv.Itoa(*c.Page)
}
