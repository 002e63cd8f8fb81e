package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/core/chunker"
	"github.com/ragline/ragline/internal/core/ingest"
	"github.com/ragline/ragline/internal/models"
)

// Defaults applied when a create request leaves chunking unset.
type ContextDefaults struct {
	MaxChunkChars int
	OverlapChars  int
	EmbedModel    string
	EmbedDim      int
}

type ContextService struct {
	db       core.DbClient
	storage  core.ObjectClient
	ingestor *ingest.Orchestrator
	bucket   string
	defaults ContextDefaults
}

func NewContextService(db core.DbClient, storage core.ObjectClient, ingestor *ingest.Orchestrator, bucket string, defaults ContextDefaults) *ContextService {
	return &ContextService{db: db, storage: storage, ingestor: ingestor, bucket: bucket, defaults: defaults}
}

// CreateRequest describes a new context.
type CreateRequest struct {
	Name        string
	SourceKind  string
	SourcePath  string
	SourceTable string
	Strategy    string
	MaxChars    int
	Overlap     int
}

var validStrategies = map[string]bool{
	chunker.StrategyFixed: true, chunker.StrategyStructural: true, chunker.StrategySemantic: true,
}

var validKinds = map[string]bool{
	models.SourceFiles: true, models.SourceRepository: true, models.SourceDatabase: true,
}

// Create registers a pending context. Ingestion is kicked off separately so
// the files kind can receive uploads first.
func (s *ContextService) Create(ctx context.Context, userID string, req CreateRequest) (*models.Context, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("context name is required")
	}
	if !validKinds[req.SourceKind] {
		return nil, fmt.Errorf("unknown source kind %q", req.SourceKind)
	}
	if req.Strategy == "" {
		req.Strategy = chunker.StrategyFixed
	}
	if !validStrategies[req.Strategy] {
		return nil, fmt.Errorf("unknown chunking strategy %q", req.Strategy)
	}
	if req.SourceKind == models.SourceDatabase && req.SourceTable == "" {
		return nil, errors.New("source table is required for database contexts")
	}
	if req.SourceKind != models.SourceFiles && req.SourcePath == "" {
		return nil, errors.New("source path is required")
	}
	if req.MaxChars <= 0 {
		req.MaxChars = s.defaults.MaxChunkChars
	}
	if req.Overlap < 0 || req.Overlap >= req.MaxChars {
		req.Overlap = s.defaults.OverlapChars
	}

	id := uuid.NewString()
	sourcePath := req.SourcePath
	if req.SourceKind == models.SourceFiles {
		sourcePath = s.objectPrefix(userID, id)
	}

	kc := &models.Context{
		ID:            id,
		UserID:        userID,
		Name:          req.Name,
		SourceKind:    req.SourceKind,
		SourcePath:    sourcePath,
		SourceTable:   req.SourceTable,
		Strategy:      req.Strategy,
		EmbedModel:    s.defaults.EmbedModel,
		EmbedDim:      s.defaults.EmbedDim,
		MaxChunkChars: req.MaxChars,
		OverlapChars:  req.Overlap,
		Status:        models.StatusPending,
		IndexHandle:   id,
	}
	if err := s.db.CreateContext(ctx, kc); err != nil {
		return nil, err
	}
	return kc, nil
}

// Upload stores one file under the context's object prefix. Only valid for
// the files kind while the context has not started processing.
func (s *ContextService) Upload(ctx context.Context, kc *models.Context, filename, contentType string, data io.Reader) (string, error) {
	if kc.SourceKind != models.SourceFiles {
		return "", fmt.Errorf("context %s does not accept uploads", kc.Name)
	}
	if kc.Status == models.StatusProcessing {
		return "", fmt.Errorf("context %s is processing", kc.Name)
	}
	filename = strings.ReplaceAll(strings.TrimSpace(filename), " ", "_")
	if filename == "" {
		return "", errors.New("filename is required")
	}
	key := path.Join(kc.SourcePath, filename)
	return s.storage.UploadFile(ctx, s.bucket, key, data, contentType)
}

// Ingest enqueues the context for initial processing.
func (s *ContextService) Ingest(kc *models.Context) error {
	switch kc.Status {
	case models.StatusPending, models.StatusError:
		s.ingestor.Enqueue(kc.ID)
		return nil
	default:
		return fmt.Errorf("context %s is %s; ingest requires pending or error", kc.Name, kc.Status)
	}
}

// Reprocess enqueues a full re-run of a ready context. The existing index
// keeps serving reads until the rebuilt one swaps in.
func (s *ContextService) Reprocess(kc *models.Context) error {
	if kc.Status != models.StatusReady {
		return fmt.Errorf("%w: %s is %s", core.ErrContextNotReady, kc.Name, kc.Status)
	}
	s.ingestor.EnqueueReprocess(kc.ID)
	return nil
}

// Cancel aborts an in-flight run.
func (s *ContextService) Cancel(kc *models.Context) bool {
	return s.ingestor.Cancel(kc.ID)
}

// Delete removes the context and everything derived from it.
func (s *ContextService) Delete(ctx context.Context, kc *models.Context) error {
	return s.ingestor.Delete(ctx, s.storage, kc)
}

func (s *ContextService) Get(ctx context.Context, id string) (*models.Context, error) {
	return s.db.GetContextByID(ctx, id)
}

func (s *ContextService) ListByUser(ctx context.Context, userID string) ([]models.Context, error) {
	return s.db.ListContextsByUser(ctx, userID)
}

func (s *ContextService) objectPrefix(userID, contextID string) string {
	return path.Join("users", userID, "contexts", contextID)
}
