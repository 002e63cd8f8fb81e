package models

import (
	"time"
)

// Context lifecycle statuses. Transitions are pending→processing→{ready,error};
// a ready context re-enters processing only through an explicit reprocess.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Source kinds a context can be built from.
const (
	SourceFiles      = "files"
	SourceRepository = "repository"
	SourceDatabase   = "database"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Context is a named, user-owned knowledge base built from one source kind.
type Context struct {
	ID         string `db:"id" json:"id"`
	UserID     string `db:"user_id" json:"user_id"`
	Name       string `db:"name" json:"name"`
	SourceKind string `db:"source_kind" json:"source_kind"` // files | repository | database

	// SourcePath locates the source material: an S3 prefix for files, a
	// checkout directory for repository, a DSN for database exports.
	SourcePath  string `db:"source_path" json:"source_path"`
	SourceTable string `db:"source_table" json:"source_table,omitempty"` // database kind only

	Strategy      string `db:"strategy" json:"strategy"` // fixed | structural | semantic
	EmbedModel    string `db:"embed_model" json:"embed_model"`
	EmbedDim      int    `db:"embed_dim" json:"embed_dim"`
	MaxChunkChars int    `db:"max_chunk_chars" json:"max_chunk_chars"`
	OverlapChars  int    `db:"overlap_chars" json:"overlap_chars"`

	Status       string  `db:"status" json:"status"`
	Progress     int     `db:"progress" json:"progress"` // 0-100, monotone while processing
	ChunkCount   int     `db:"chunk_count" json:"chunk_count"`
	TokenCount   int     `db:"token_count" json:"token_count"`
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	// IndexHandle identifies the context's persisted vector index; the index
	// is fully reconstructable from chunks + vectors alone.
	IndexHandle string `db:"index_handle" json:"index_handle"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk represents one text chunk from a context's source unit. Chunks are
// immutable after creation; they are only deleted on context delete/reprocess.
type Chunk struct {
	ID        string    `db:"id" json:"id"`
	ContextID string    `db:"context_id" json:"context_id"`
	Source    string    `db:"source" json:"source"` // originating unit, e.g. filename
	Position  int       `db:"position" json:"position"`
	Text      string    `db:"text" json:"text"`
	Section   string    `db:"section" json:"section,omitempty"`
	Table     bool      `db:"has_table" json:"has_table,omitempty"`
	Language  string    `db:"language" json:"language,omitempty"`
	Strategy  string    `db:"strategy" json:"strategy"`
	Oversized bool      `db:"oversized" json:"oversized,omitempty"`
	CharLen   int       `db:"char_len" json:"char_len"`
	Tokens    int       `db:"token_count" json:"token_count"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Citation links an answer back to a chunk that was actually sent to the
// model. Response-scoped; persisted only as part of the message record.
type Citation struct {
	ContextName string  `json:"context_name"`
	Source      string  `json:"source"`
	Score       float32 `json:"score"` // similarity in [0,1]
	Section     string  `json:"section,omitempty"`
	Table       bool    `json:"table,omitempty"`
}

// ChatSession represents one conversation over a set of contexts. The
// context set is fixed at session creation.
type ChatSession struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	ContextIDs []string  `db:"context_ids" json:"context_ids"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ChatMessage represents an individual chat message (user or assistant).
// Assistant messages carry the citations produced for them.
type ChatMessage struct {
	ID            string     `db:"id" json:"id"`
	SessionID     string     `db:"session_id" json:"session_id"`
	Role          string     `db:"role" json:"role"` // "user" or "assistant"
	Content       string     `db:"content" json:"content"`
	CitationsJSON []byte     `db:"citations" json:"-"`
	Citations     []Citation `db:"-" json:"citations,omitempty"`
	TokensUsed    int        `db:"tokens_used" json:"tokens_used,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
