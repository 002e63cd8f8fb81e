package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/core/extract"
	"github.com/ragline/ragline/internal/core/index"
	"github.com/ragline/ragline/internal/logging"
	"github.com/ragline/ragline/internal/models"
)

// fakeDB is an in-memory core.DbClient sufficient for pipeline tests. It
// records the progress values written so monotonicity can be asserted.
type fakeDB struct {
	mu       sync.Mutex
	contexts map[string]*models.Context
	chunks   map[string][]models.Chunk
	progress map[string][]int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		contexts: map[string]*models.Context{},
		chunks:   map[string][]models.Chunk{},
		progress: map[string][]int{},
	}
}

func (f *fakeDB) CreateUser(ctx context.Context, u *models.User) error { return nil }
func (f *fakeDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, nil
}

func (f *fakeDB) CreateContext(ctx context.Context, kc *models.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *kc
	f.contexts[kc.ID] = &cp
	return nil
}

func (f *fakeDB) GetContextByID(ctx context.Context, id string) (*models.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kc, ok := f.contexts[id]
	if !ok {
		return nil, nil
	}
	cp := *kc
	return &cp, nil
}

func (f *fakeDB) ListContextsByUser(ctx context.Context, userID string) ([]models.Context, error) {
	return nil, nil
}

func (f *fakeDB) UpdateContextStatus(ctx context.Context, id, status string, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kc, ok := f.contexts[id]
	if !ok {
		return fmt.Errorf("context not found: %s", id)
	}
	kc.Status = status
	if errMessage == "" {
		kc.ErrorMessage = nil
	} else {
		kc.ErrorMessage = &errMessage
	}
	if status == models.StatusProcessing {
		kc.Progress = 0
		f.progress[id] = nil
	}
	return nil
}

func (f *fakeDB) UpdateContextProgress(ctx context.Context, id string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kc, ok := f.contexts[id]
	if !ok {
		return fmt.Errorf("context not found: %s", id)
	}
	if progress > kc.Progress {
		kc.Progress = progress
	}
	f.progress[id] = append(f.progress[id], kc.Progress)
	return nil
}

func (f *fakeDB) UpdateContextTotals(ctx context.Context, id string, chunkCount, tokenCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kc, ok := f.contexts[id]; ok {
		kc.ChunkCount = chunkCount
		kc.TokenCount = tokenCount
	}
	return nil
}

func (f *fakeDB) DeleteContext(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contexts, id)
	delete(f.chunks, id)
	return nil
}

func (f *fakeDB) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range chunks {
		f.chunks[ch.ContextID] = append(f.chunks[ch.ContextID], ch)
	}
	return nil
}

func (f *fakeDB) DeleteChunksByContext(ctx context.Context, contextID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, contextID)
	return nil
}

func (f *fakeDB) CreateChatSession(ctx context.Context, s *models.ChatSession) error { return nil }
func (f *fakeDB) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	return nil, nil
}
func (f *fakeDB) AddChatMessage(ctx context.Context, m *models.ChatMessage) error { return nil }
func (f *fakeDB) GetMessagesBySession(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	return nil, nil
}
func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) chunkCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[id])
}

func (f *fakeDB) status(t *testing.T, id string) *models.Context {
	t.Helper()
	kc, err := f.GetContextByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, kc)
	return kc
}

// stubEmbedder is a deterministic core.EmbeddingProvider. failAfter > 0 makes
// every call past that count fail; blockUntilCancel makes calls wait for
// context cancellation.
type stubEmbedder struct {
	mu               sync.Mutex
	dim              int
	calls            int
	failAfter        int
	blockUntilCancel bool
}

func (s *stubEmbedder) Dim() int { return s.dim }

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()

	if s.blockUntilCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.failAfter > 0 && calls > s.failAfter {
		return nil, fmt.Errorf("%w: stub offline", core.ErrEmbeddingUnavailable)
	}

	out := make([][]float32, len(texts))
	for i, txt := range texts {
		v := make([]float32, s.dim)
		v[0] = float32(len(txt) % 97)
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// writeRepo materialises a fake checkout under a temp dir.
func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newTestOrchestrator(db *fakeDB, emb *stubEmbedder) (*Orchestrator, *index.MemProvider) {
	indexes := index.NewMemProvider()
	resolver := &Resolver{byKind: map[string]SourceEnumerator{
		models.SourceRepository: &RepositorySource{},
	}}
	o := NewOrchestrator(db, indexes, emb, extract.NewRegistry(), resolver, Config{
		BatchSize:      4,
		ExtractWorkers: 2,
	}, logging.NewNop())
	return o, indexes
}

func seedContext(db *fakeDB, dir string) *models.Context {
	kc := &models.Context{
		ID:            "ctx-1",
		UserID:        "user-1",
		Name:          "docs",
		SourceKind:    models.SourceRepository,
		SourcePath:    dir,
		Strategy:      "fixed",
		MaxChunkChars: 200,
		OverlapChars:  20,
		Status:        models.StatusPending,
	}
	_ = db.CreateContext(context.Background(), kc)
	return kc
}

func TestProcessOneHappyPath(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"readme.md":  strings.Repeat("Documentation paragraph. ", 40),
		"notes.txt":  strings.Repeat("Operational note. ", 30),
		"img/x.webp": "binary-ish, skipped by extension filter",
	})
	db := newFakeDB()
	emb := &stubEmbedder{dim: 4}
	o, indexes := newTestOrchestrator(db, emb)
	seedContext(db, dir)

	rep, err := o.ProcessOne(context.Background(), "ctx-1", false)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, 2, rep.Succeeded())
	assert.False(t, rep.Failed())

	kc := db.status(t, "ctx-1")
	assert.Equal(t, models.StatusReady, kc.Status)
	assert.Equal(t, 100, kc.Progress)
	assert.Nil(t, kc.ErrorMessage)
	assert.Equal(t, db.chunkCount("ctx-1"), kc.ChunkCount)
	assert.Positive(t, kc.TokenCount)

	idx, err := indexes.Open(context.Background(), "ctx-1", 4)
	require.NoError(t, err)
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kc.ChunkCount, n, "every chunk has exactly one index entry")
}

func TestProcessOneProgressMonotone(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"a.txt": strings.Repeat("alpha text. ", 60),
		"b.txt": strings.Repeat("beta text. ", 60),
		"c.txt": strings.Repeat("gamma text. ", 60),
	})
	db := newFakeDB()
	o, _ := newTestOrchestrator(db, &stubEmbedder{dim: 4})
	seedContext(db, dir)

	_, err := o.ProcessOne(context.Background(), "ctx-1", false)
	require.NoError(t, err)

	db.mu.Lock()
	seq := append([]int(nil), db.progress["ctx-1"]...)
	db.mu.Unlock()
	require.NotEmpty(t, seq)
	for i := 1; i < len(seq); i++ {
		assert.GreaterOrEqual(t, seq[i], seq[i-1], "progress regressed at step %d: %v", i, seq)
	}
	assert.Equal(t, 100, seq[len(seq)-1])
}

func TestProcessOnePartialFailure(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"good.txt": strings.Repeat("Readable content. ", 30),
		"bad.txt":  string([]byte{0xFF, 0xFE, 0x80, 0x80}),
	})
	db := newFakeDB()
	o, _ := newTestOrchestrator(db, &stubEmbedder{dim: 4})
	seedContext(db, dir)

	rep, err := o.ProcessOne(context.Background(), "ctx-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded())

	var failed int
	for _, u := range rep.Units {
		if u.Err != nil {
			failed++
			assert.Equal(t, "bad.txt", u.Origin)
		}
	}
	assert.Equal(t, 1, failed)

	kc := db.status(t, "ctx-1")
	assert.Equal(t, models.StatusReady, kc.Status, "partial failure still yields a usable context")
}

func TestProcessOneAllUnitsFail(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"bad1.txt": string([]byte{0xFF, 0xFE}),
		"bad2.txt": string([]byte{0xC0, 0x00}),
	})
	db := newFakeDB()
	o, _ := newTestOrchestrator(db, &stubEmbedder{dim: 4})
	seedContext(db, dir)

	_, err := o.ProcessOne(context.Background(), "ctx-1", false)
	require.Error(t, err)

	kc := db.status(t, "ctx-1")
	assert.Equal(t, models.StatusError, kc.Status)
	require.NotNil(t, kc.ErrorMessage)
	assert.Contains(t, *kc.ErrorMessage, "bad1.txt")
	assert.Contains(t, *kc.ErrorMessage, "bad2.txt")
}

func TestProcessOneEmbeddingFailurePreservesCompletedBatches(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"long.txt": strings.Repeat("Plenty of text to produce many chunks. ", 200),
	})
	db := newFakeDB()
	emb := &stubEmbedder{dim: 4, failAfter: 2}
	o, indexes := newTestOrchestrator(db, emb)
	seedContext(db, dir)

	_, err := o.ProcessOne(context.Background(), "ctx-1", false)
	require.Error(t, err)

	kc := db.status(t, "ctx-1")
	assert.Equal(t, models.StatusError, kc.Status)

	// The batches embedded before the failure were written; nothing from the
	// failed batch was.
	idx, err := indexes.Open(context.Background(), "ctx-1", 4)
	require.NoError(t, err)
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n, "two completed batches of four")
	assert.Equal(t, 8, db.chunkCount("ctx-1"))
}

func TestProcessOneCancellation(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"doc.txt": strings.Repeat("Cancellable content. ", 100),
	})
	db := newFakeDB()
	emb := &stubEmbedder{dim: 4, blockUntilCancel: true}
	o, _ := newTestOrchestrator(db, emb)
	seedContext(db, dir)

	done := make(chan error, 1)
	go func() {
		_, err := o.ProcessOne(context.Background(), "ctx-1", false)
		done <- err
	}()

	// Wait until the run registers, then cancel it.
	for !o.Cancel("ctx-1") {
		time.Sleep(time.Millisecond)
	}
	err := <-done
	require.Error(t, err)

	kc := db.status(t, "ctx-1")
	assert.Equal(t, models.StatusError, kc.Status)
}

func TestProcessOneReprocessSwapsIndex(t *testing.T) {
	dir := writeRepo(t, map[string]string{
		"doc.txt": strings.Repeat("Original content. ", 40),
	})
	db := newFakeDB()
	o, indexes := newTestOrchestrator(db, &stubEmbedder{dim: 4})
	seedContext(db, dir)

	_, err := o.ProcessOne(context.Background(), "ctx-1", false)
	require.NoError(t, err)
	firstCount := db.status(t, "ctx-1").ChunkCount

	// Source grows; reprocess must replace the whole corpus, not append.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.txt"),
		[]byte(strings.Repeat("Rewritten and much longer content. ", 80)), 0o644))

	_, err = o.ProcessOne(context.Background(), "ctx-1", true)
	require.NoError(t, err)

	kc := db.status(t, "ctx-1")
	assert.Equal(t, models.StatusReady, kc.Status)
	assert.NotEqual(t, firstCount, kc.ChunkCount)

	idx, err := indexes.Open(context.Background(), "ctx-1", 4)
	require.NoError(t, err)
	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kc.ChunkCount, n)
}

func TestProcessOneReprocessRequiresReady(t *testing.T) {
	dir := writeRepo(t, map[string]string{"doc.txt": "content"})
	db := newFakeDB()
	o, _ := newTestOrchestrator(db, &stubEmbedder{dim: 4})
	seedContext(db, dir) // pending

	_, err := o.ProcessOne(context.Background(), "ctx-1", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires ready")
}

func TestProcessOneUnknownContext(t *testing.T) {
	db := newFakeDB()
	o, _ := newTestOrchestrator(db, &stubEmbedder{dim: 4})

	_, err := o.ProcessOne(context.Background(), "missing", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
