package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
	"github.com/kirillkom/hybrid-rag/internal/core/ports"
)

// passageNamespace seeds deterministic passage IDs so the indexer and the
// serving process derive identical identities from the same corpus file.
var passageNamespace = uuid.MustParse("6f1d1c52-9a3e-4d0b-8a7e-3c2f4b5e6d71")

type record struct {
	ID         json.RawMessage `json:"id"`
	Text       string          `json:"text"`
	SourceFile string          `json:"source_file"`
	Page       *int            `json:"page"`
	PageIdx    *int            `json:"page_idx"`
	Type       string          `json:"type"`
}

type Loader struct {
	splitter ports.Splitter
	dedup    bool
}

// NewLoader builds a corpus loader. A nil splitter keeps records whole.
func NewLoader(splitter ports.Splitter, dedup bool) *Loader {
	return &Loader{splitter: splitter, dedup: dedup}
}

// Load decodes the whole corpus file before producing any passage, so a
// malformed file never yields a partial snapshot.
func (l *Loader) Load(ctx context.Context, location string) ([]domain.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(location)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDataLoad, "read corpus", err)
	}
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrDataLoad, "read corpus", errors.New("corpus is not valid utf-8"))
	}

	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, domain.WrapError(domain.ErrDataLoad, "decode corpus", err)
	}

	passages := make([]domain.Passage, 0, len(records))
	seen := make(map[string]struct{})
	for i, rec := range records {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			continue
		}

		page := rec.Page
		if page == nil {
			page = rec.PageIdx
		}
		explicitID, err := recordID(rec.ID)
		if err != nil {
			return nil, domain.WrapError(domain.ErrDataLoad, "decode corpus", fmt.Errorf("record %d: %w", i, err))
		}

		chunks := l.split(text)
		for ci, chunk := range chunks {
			if l.dedup {
				if _, dup := seen[chunk]; dup {
					continue
				}
				seen[chunk] = struct{}{}
			}

			p := domain.Passage{
				Text:        chunk,
				SourceFile:  strings.TrimSpace(rec.SourceFile),
				Kind:        rec.Type,
				RecordIndex: i,
			}
			if page != nil {
				p.Page = domain.IntPtr(*page)
			}
			if len(chunks) > 1 {
				p.ChunkIndex = ci + 1
				p.ChunkCount = len(chunks)
			}
			p.ID = passageID(explicitID, p)
			passages = append(passages, p)
		}
	}
	return passages, nil
}

func (l *Loader) split(text string) []string {
	if l.splitter == nil {
		return []string{text}
	}
	chunks := l.splitter.Split(text)
	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// recordID accepts string or numeric ids.
func recordID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.New("id must be a string or a number")
}

func passageID(explicitID string, p domain.Passage) string {
	if explicitID != "" {
		if p.ChunkCount > 1 {
			return explicitID + "#" + strconv.Itoa(p.ChunkIndex)
		}
		return explicitID
	}
	key := fmt.Sprintf("%s|%d|%d", p.SourceFile, p.RecordIndex, p.ChunkIndex)
	return uuid.NewSHA1(passageNamespace, []byte(key)).String()
}
