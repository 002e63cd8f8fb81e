package core

import (
	"context"
	"io"

	"github.com/ragline/ragline/internal/models"
)

// DbClient defines all persistence operations the services and the pipeline
// need. It abstracts Postgres/pgvector so higher layers never depend on a
// specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateContext(ctx context.Context, kc *models.Context) error
	GetContextByID(ctx context.Context, id string) (*models.Context, error)
	ListContextsByUser(ctx context.Context, userID string) ([]models.Context, error)
	UpdateContextStatus(ctx context.Context, id, status string, errMessage string) error
	UpdateContextProgress(ctx context.Context, id string, progress int) error
	UpdateContextTotals(ctx context.Context, id string, chunkCount, tokenCount int) error
	DeleteContext(ctx context.Context, id string) error

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunksByContext(ctx context.Context, contextID string) error

	CreateChatSession(ctx context.Context, session *models.ChatSession) error
	GetChatSession(ctx context.Context, id string) (*models.ChatSession, error)
	AddChatMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessagesBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage. It's
// abstract so AWS can be replaced with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}
