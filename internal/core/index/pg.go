package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/ragline/ragline/internal/core"
)

// PgIndex is the pgvector-backed ContextIndex. Rows live in index_entries
// tagged with (context_id, generation); the active generation per context is
// recorded in index_state. Readers resolve the active generation inside the
// search statement itself, so a Rebuild (which stages rows under the next
// generation and flips the pointer in one transaction) is observed either
// entirely before or entirely after, never torn.
type PgIndex struct {
	db        *sql.DB
	contextID string
	dim       int
}

var _ core.ContextIndex = (*PgIndex)(nil)

func (p *PgIndex) Dim() int { return p.dim }

// Add appends entries under the active generation.
func (p *PgIndex) Add(ctx context.Context, entries []core.Entry) (int, error) {
	if err := p.check(entries); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("index add: begin tx: %w", err)
	}
	defer tx.Rollback()

	var gen int
	if err := tx.QueryRowContext(ctx,
		`SELECT generation FROM index_state WHERE context_id = $1`, p.contextID,
	).Scan(&gen); err != nil {
		return 0, fmt.Errorf("index add: read generation: %w", err)
	}

	if err := p.insert(ctx, tx, gen, entries); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("index add: commit: %w", err)
	}
	return len(entries), nil
}

// Search returns the top-k entries of the active generation by cosine
// similarity, ties broken by insertion order (seq).
func (p *PgIndex) Search(ctx context.Context, query []float32, k int) ([]core.Match, error) {
	if len(query) != p.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index %d", core.ErrDimensionMismatch, len(query), p.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	const q = `
		SELECT chunk_id, source, text, meta, 1 - (embedding <=> $2) AS score
		FROM index_entries
		WHERE context_id = $1
		  AND generation = (SELECT generation FROM index_state WHERE context_id = $1)
		ORDER BY embedding <=> $2, seq ASC
		LIMIT $3
	`
	rows, err := p.db.QueryContext(ctx, q, p.contextID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	defer rows.Close()

	var out []core.Match
	for rows.Next() {
		var m core.Match
		var metaRaw []byte
		if err := rows.Scan(&m.ChunkID, &m.Source, &m.Text, &metaRaw, &m.Score); err != nil {
			return nil, fmt.Errorf("index search: scan: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &m.Meta); err != nil {
				return nil, fmt.Errorf("%w: bad meta for chunk %s: %v", core.ErrIndexCorrupt, m.ChunkID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Rebuild stages all entries under generation+1, then flips the pointer and
// purges the previous generation in the same transaction.
func (p *PgIndex) Rebuild(ctx context.Context, entries []core.Entry) error {
	if err := p.check(entries); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index rebuild: begin tx: %w", err)
	}
	defer tx.Rollback()

	var gen int
	if err := tx.QueryRowContext(ctx,
		`SELECT generation FROM index_state WHERE context_id = $1 FOR UPDATE`, p.contextID,
	).Scan(&gen); err != nil {
		return fmt.Errorf("index rebuild: read generation: %w", err)
	}
	next := gen + 1

	if err := p.insert(ctx, tx, next, entries); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE index_state SET generation = $2 WHERE context_id = $1`, p.contextID, next,
	); err != nil {
		return fmt.Errorf("index rebuild: flip generation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_entries WHERE context_id = $1 AND generation < $2`, p.contextID, next,
	); err != nil {
		return fmt.Errorf("index rebuild: purge stale generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index rebuild: commit: %w", err)
	}
	return nil
}

// DeleteAll removes every entry and the generation pointer. Idempotent.
func (p *PgIndex) DeleteAll(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index delete: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_entries WHERE context_id = $1`, p.contextID); err != nil {
		return fmt.Errorf("index delete: entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_state WHERE context_id = $1`, p.contextID); err != nil {
		return fmt.Errorf("index delete: state: %w", err)
	}
	return tx.Commit()
}

// Count reports the searchable entry count of the active generation.
func (p *PgIndex) Count(ctx context.Context) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM index_entries
		WHERE context_id = $1
		  AND generation = (SELECT generation FROM index_state WHERE context_id = $1)
	`
	var n int
	if err := p.db.QueryRowContext(ctx, q, p.contextID).Scan(&n); err != nil {
		return 0, fmt.Errorf("index count: %w", err)
	}
	return n, nil
}

func (p *PgIndex) insert(ctx context.Context, tx *sql.Tx, gen int, entries []core.Entry) error {
	const q = `
		INSERT INTO index_entries (context_id, generation, chunk_id, position, source, text, meta, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("index insert: prepare: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		metaRaw, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("index insert: marshal meta: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.contextID, gen, e.ChunkID, e.Position, e.Source, e.Text, metaRaw, pgvector.NewVector(e.Vector),
		); err != nil {
			return fmt.Errorf("index insert: chunk %s: %w", e.ChunkID, err)
		}
	}
	return nil
}

func (p *PgIndex) check(entries []core.Entry) error {
	for _, e := range entries {
		if len(e.Vector) != p.dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, index %d",
				core.ErrDimensionMismatch, e.ChunkID, len(e.Vector), p.dim)
		}
	}
	return nil
}

// PgProvider opens pgvector-backed indexes over a shared connection pool.
type PgProvider struct {
	db *sql.DB
}

var _ core.IndexProvider = (*PgProvider)(nil)

func NewPgProvider(db *sql.DB) *PgProvider {
	return &PgProvider{db: db}
}

// Open ensures the context's generation pointer exists and validates that
// any persisted vectors match the requested dimensionality. A stored
// dimension that disagrees means the index was written under a different
// embedding model and is surfaced as corrupt, not silently replaced.
func (p *PgProvider) Open(ctx context.Context, contextID string, dim int) (core.ContextIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index open: dimension must be positive")
	}

	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO index_state (context_id, generation) VALUES ($1, 0) ON CONFLICT (context_id) DO NOTHING`,
		contextID,
	); err != nil {
		return nil, fmt.Errorf("index open: ensure state: %w", err)
	}

	var stored sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		SELECT vector_dims(embedding)
		FROM index_entries
		WHERE context_id = $1
		  AND generation = (SELECT generation FROM index_state WHERE context_id = $1)
		LIMIT 1
	`, contextID).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// Empty index; nothing to validate.
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %v", core.ErrIndexCorrupt, contextID, err)
	case stored.Valid && int(stored.Int64) != dim:
		return nil, fmt.Errorf("%w: %s: stored dimension %d, configured %d",
			core.ErrIndexCorrupt, contextID, stored.Int64, dim)
	}

	return &PgIndex{db: p.db, contextID: contextID, dim: dim}, nil
}
