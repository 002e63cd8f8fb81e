package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Pool settings sized for an API service.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// DB exposes the underlying pool so the index provider can share it.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()), COALESCE($6, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, nullTime(user.CreatedAt), nullTime(user.UpdatedAt))
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Contexts

func (c *DatabaseClient) CreateContext(ctx context.Context, kc *models.Context) error {
	if kc == nil {
		return errors.New("nil context")
	}
	const q = `
		INSERT INTO contexts
			(id, user_id, name, source_kind, source_path, source_table,
			 strategy, embed_model, embed_dim, max_chunk_chars, overlap_chars,
			 status, progress, chunk_count, token_count, index_handle,
			 created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			 COALESCE($17, now()), COALESCE($18, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		kc.ID, kc.UserID, kc.Name, kc.SourceKind, kc.SourcePath, kc.SourceTable,
		kc.Strategy, kc.EmbedModel, kc.EmbedDim, kc.MaxChunkChars, kc.OverlapChars,
		kc.Status, kc.Progress, kc.ChunkCount, kc.TokenCount, kc.IndexHandle,
		nullTime(kc.CreatedAt), nullTime(kc.UpdatedAt))
	return err
}

const contextColumns = `
	id, user_id, name, source_kind, source_path, source_table,
	strategy, embed_model, embed_dim, max_chunk_chars, overlap_chars,
	status, progress, chunk_count, token_count, error_message, index_handle,
	created_at, updated_at
`

func scanContext(row interface{ Scan(...any) error }) (*models.Context, error) {
	var kc models.Context
	err := row.Scan(
		&kc.ID, &kc.UserID, &kc.Name, &kc.SourceKind, &kc.SourcePath, &kc.SourceTable,
		&kc.Strategy, &kc.EmbedModel, &kc.EmbedDim, &kc.MaxChunkChars, &kc.OverlapChars,
		&kc.Status, &kc.Progress, &kc.ChunkCount, &kc.TokenCount, &kc.ErrorMessage, &kc.IndexHandle,
		&kc.CreatedAt, &kc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &kc, nil
}

func (c *DatabaseClient) GetContextByID(ctx context.Context, id string) (*models.Context, error) {
	q := `SELECT ` + contextColumns + ` FROM contexts WHERE id = $1`
	kc, err := scanContext(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return kc, nil
}

func (c *DatabaseClient) ListContextsByUser(ctx context.Context, userID string) ([]models.Context, error) {
	q := `SELECT ` + contextColumns + ` FROM contexts WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Context
	for rows.Next() {
		kc, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *kc)
	}
	return out, rows.Err()
}

// UpdateContextStatus sets the lifecycle status. An empty errMessage clears
// the stored message; entering processing also resets progress to zero.
func (c *DatabaseClient) UpdateContextStatus(ctx context.Context, id, status string, errMessage string) error {
	const q = `
		UPDATE contexts
		SET status = $2,
		    error_message = NULLIF($3, ''),
		    progress = CASE WHEN $2 = 'processing' THEN 0 ELSE progress END,
		    updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errMessage)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("context not found: %s", id)
	}
	return nil
}

// UpdateContextProgress only ever moves progress forward; a stale writer
// racing a newer one cannot roll the bar back.
func (c *DatabaseClient) UpdateContextProgress(ctx context.Context, id string, progress int) error {
	const q = `
		UPDATE contexts
		SET progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, progress)
	return err
}

func (c *DatabaseClient) UpdateContextTotals(ctx context.Context, id string, chunkCount, tokenCount int) error {
	const q = `
		UPDATE contexts
		SET chunk_count = $2, token_count = $3, updated_at = now()
		WHERE id = $1
	`
	_, err := c.db.ExecContext(ctx, q, id, chunkCount, tokenCount)
	return err
}

// DeleteContext removes the context row; chunks and index rows go with it
// via ON DELETE CASCADE plus the index provider's DeleteAll.
func (c *DatabaseClient) DeleteContext(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM contexts WHERE id = $1`, id)
	return err
}

// Chunks

// InsertChunks inserts a batch in a single transaction.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO chunks
			(id, context_id, source, position, text, section, has_table,
			 language, strategy, oversized, char_len, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($13, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.ContextID, ch.Source, ch.Position, ch.Text, ch.Section, ch.Table,
			ch.Language, ch.Strategy, ch.Oversized, ch.CharLen, ch.Tokens, nullTime(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteChunksByContext(ctx context.Context, contextID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE context_id = $1`, contextID)
	return err
}

// Chat

func (c *DatabaseClient) CreateChatSession(ctx context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	ids, err := json.Marshal(session.ContextIDs)
	if err != nil {
		return fmt.Errorf("marshal context ids: %w", err)
	}
	const q = `
		INSERT INTO chat_sessions (id, user_id, context_ids, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`
	_, err = c.db.ExecContext(ctx, q, session.ID, session.UserID, ids, nullTime(session.CreatedAt))
	return err
}

func (c *DatabaseClient) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	const q = `
		SELECT id, user_id, context_ids, created_at
		FROM chat_sessions WHERE id = $1
	`
	var (
		s   models.ChatSession
		ids []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.UserID, &ids, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if err := json.Unmarshal(ids, &s.ContextIDs); err != nil {
			return nil, fmt.Errorf("decode context ids: %w", err)
		}
	}
	return &s, nil
}

func (c *DatabaseClient) AddChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil {
		return errors.New("nil message")
	}
	citations := msg.CitationsJSON
	if citations == nil && len(msg.Citations) > 0 {
		var err error
		citations, err = json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("marshal citations: %w", err)
		}
	}
	const q = `
		INSERT INTO chat_messages (id, session_id, role, content, citations, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		msg.ID, msg.SessionID, msg.Role, msg.Content, citations, msg.TokensUsed, nullTime(msg.CreatedAt))
	return err
}

// GetMessagesBySession returns the most recent messages in chronological
// order. limit <= 0 means no limit.
func (c *DatabaseClient) GetMessagesBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	q := `
		SELECT id, session_id, role, content, citations, tokens_used, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CitationsJSON, &m.TokensUsed, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(m.CitationsJSON) > 0 {
			if err := json.Unmarshal(m.CitationsJSON, &m.Citations); err != nil {
				return nil, fmt.Errorf("decode citations for message %s: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
