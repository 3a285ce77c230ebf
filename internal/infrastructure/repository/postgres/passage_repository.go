package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/hybrid-rag/internal/core/domain"
)

// PassageRepository stores the corpus snapshot the keyword index and the
// metadata store are built from.
type PassageRepository struct {
	db *sql.DB
}

func NewPassageRepository(db *sql.DB) *PassageRepository {
	return &PassageRepository{db: db}
}

func (r *PassageRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/indexer startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS passages (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	text TEXT NOT NULL,
	source_file TEXT NOT NULL DEFAULT '',
	page INTEGER,
	kind TEXT NOT NULL DEFAULT '',
	record_index INTEGER NOT NULL DEFAULT 0,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passages_position ON passages(position);
CREATE INDEX IF NOT EXISTS idx_passages_source_file ON passages(source_file);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SavePassages replaces the stored snapshot atomically.
func (r *PassageRepository) SavePassages(ctx context.Context, passages []domain.Passage) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages`); err != nil {
		return 0, fmt.Errorf("clear passages: %w", err)
	}

	now := time.Now().UTC()
	for i, p := range passages {
		_, err := tx.ExecContext(ctx, `
INSERT INTO passages (
	id, position, text, source_file, page, kind, record_index, chunk_index, chunk_count, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
			p.ID, i, p.Text, p.SourceFile, pageArg(p.Page), p.Kind, p.RecordIndex, p.ChunkIndex, p.ChunkCount, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return len(passages), nil
}

func (r *PassageRepository) ListPassages(ctx context.Context) ([]domain.Passage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, text, source_file, page, kind, record_index, chunk_index, chunk_count
FROM passages
ORDER BY position ASC
`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDataLoad, "list passages", err)
	}
	defer rows.Close()

	out := make([]domain.Passage, 0, 256)
	for rows.Next() {
		var (
			p    domain.Passage
			page sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Text, &p.SourceFile, &page, &p.Kind, &p.RecordIndex, &p.ChunkIndex, &p.ChunkCount); err != nil {
			return nil, domain.WrapError(domain.ErrDataLoad, "scan passage", err)
		}
		if page.Valid {
			p.Page = domain.IntPtr(int(page.Int64))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrDataLoad, "iterate passages", err)
	}
	return out, nil
}

// Load lets the repository act as a corpus source for serving processes.
func (r *PassageRepository) Load(ctx context.Context, _ string) ([]domain.Passage, error) {
	return r.ListPassages(ctx)
}

func pageArg(page *int) any {
	if page == nil {
		return nil
	}
	return *page
}
