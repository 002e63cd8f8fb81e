package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/core/index"
	"github.com/ragline/ragline/internal/logging"
	"github.com/ragline/ragline/internal/models"
)

// queryEmbedder answers every query with the unit x-axis vector, so an
// entry's cosine score equals its (normalised) first component.
type queryEmbedder struct{}

func (queryEmbedder) Dim() int { return 2 }
func (queryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (queryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubLLM struct {
	mu       sync.Mutex
	failures int
	calls    int
	prompts  []string
	reply    string
}

func (s *stubLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prompts = append(s.prompts, userPrompt)
	if s.calls <= s.failures {
		return "", fmt.Errorf("model overloaded")
	}
	if s.reply == "" {
		return "stub answer [1]", nil
	}
	return s.reply, nil
}

// scored builds a unit-length vector whose cosine against the x-axis query
// is exactly score.
func scored(score float64) []float32 {
	s := 1 - score*score
	if s < 0 {
		s = 0
	}
	return []float32{float32(score), float32(sqrt(s))}
}

func sqrt(f float64) float64 {
	// Newton iterations are plenty for test vectors.
	if f == 0 {
		return 0
	}
	x := f
	for i := 0; i < 40; i++ {
		x = (x + f/x) / 2
	}
	return x
}

func readyContext(id, name string) *models.Context {
	return &models.Context{ID: id, Name: name, Status: models.StatusReady, EmbedDim: 2}
}

func seedIndex(t *testing.T, p *index.MemProvider, contextID string, entries []core.Entry) {
	t.Helper()
	idx, err := p.Open(context.Background(), contextID, 2)
	require.NoError(t, err)
	_, err = idx.Add(context.Background(), entries)
	require.NoError(t, err)
}

func newTestAssembler(p *index.MemProvider, llm core.LLMProvider, cfg Config) *Assembler {
	return NewAssembler(p, queryEmbedder{}, llm, cfg, logging.NewNop())
}

func TestAnswerMergesAcrossContexts(t *testing.T) {
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", []core.Entry{
		{ChunkID: "a1", Source: "a.md", Text: "alpha one", Vector: scored(0.9)},
		{ChunkID: "a2", Source: "a.md", Text: "alpha two", Vector: scored(0.8)},
	})
	seedIndex(t, p, "ctx-b", []core.Entry{
		{ChunkID: "b1", Source: "b.md", Text: "beta one", Vector: scored(0.95)},
	})

	llm := &stubLLM{}
	a := newTestAssembler(p, llm, Config{KPerContext: 5, TokenBudget: 10000})

	ans, err := a.Answer(context.Background(), "what is alpha?", []*models.Context{
		readyContext("ctx-a", "Alpha"),
		readyContext("ctx-b", "Beta"),
	}, nil)
	require.NoError(t, err)
	require.Len(t, ans.Citations, 3)

	// Global ranking across contexts: B's 0.95 ahead of A's 0.9 and 0.8.
	assert.Equal(t, "Beta", ans.Citations[0].ContextName)
	assert.Equal(t, "Alpha", ans.Citations[1].ContextName)
	assert.Equal(t, "Alpha", ans.Citations[2].ContextName)
	assert.InDelta(t, 0.95, float64(ans.Citations[0].Score), 0.01)
	assert.InDelta(t, 0.9, float64(ans.Citations[1].Score), 0.01)
	assert.InDelta(t, 0.8, float64(ans.Citations[2].Score), 0.01)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "beta one")
	assert.Contains(t, llm.prompts[0], "what is alpha?")
}

func TestAnswerRespectsTokenBudget(t *testing.T) {
	longText := strings.Repeat("x", 400) // ~100 tokens
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", []core.Entry{
		{ChunkID: "a1", Source: "a.md", Text: longText, Vector: scored(0.9)},
		{ChunkID: "a2", Source: "a.md", Text: longText, Vector: scored(0.8)},
		{ChunkID: "a3", Source: "a.md", Text: longText, Vector: scored(0.7)},
	})

	llm := &stubLLM{}
	a := newTestAssembler(p, llm, Config{KPerContext: 5, TokenBudget: 150})

	ans, err := a.Answer(context.Background(), "q", []*models.Context{readyContext("ctx-a", "Alpha")}, nil)
	require.NoError(t, err)

	// Only the top hit fits the 150-token snippet budget; citations list
	// exactly what was sent, nothing more.
	require.Len(t, ans.Citations, 1)
	assert.InDelta(t, 0.9, float64(ans.Citations[0].Score), 0.01)
	assert.Equal(t, 1, strings.Count(llm.prompts[0], longText))
}

func TestAnswerBudgetAlwaysAdmitsTopHit(t *testing.T) {
	hugeText := strings.Repeat("y", 4000) // ~1000 tokens, alone over budget
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", []core.Entry{
		{ChunkID: "a1", Source: "a.md", Text: hugeText, Vector: scored(0.9)},
	})

	llm := &stubLLM{}
	a := newTestAssembler(p, llm, Config{KPerContext: 5, TokenBudget: 100})

	ans, err := a.Answer(context.Background(), "q", []*models.Context{readyContext("ctx-a", "Alpha")}, nil)
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
}

func TestAnswerRejectsNotReadyContext(t *testing.T) {
	p := index.NewMemProvider()
	llm := &stubLLM{}
	a := newTestAssembler(p, llm, Config{})

	processing := readyContext("ctx-a", "Alpha")
	processing.Status = models.StatusProcessing

	_, err := a.Answer(context.Background(), "q", []*models.Context{
		readyContext("ctx-b", "Beta"),
		processing,
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrContextNotReady))
	assert.Zero(t, llm.calls, "no generation when a context is not ready")
}

func TestAnswerEmptyIndexReturnsNoCitations(t *testing.T) {
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", nil)

	llm := &stubLLM{}
	a := newTestAssembler(p, llm, Config{})

	ans, err := a.Answer(context.Background(), "q", []*models.Context{readyContext("ctx-a", "Alpha")}, nil)
	require.NoError(t, err)
	assert.Empty(t, ans.Citations)
	assert.Zero(t, llm.calls)
	assert.NotEmpty(t, ans.Text)
}

func TestAnswerRetriesGenerationOnce(t *testing.T) {
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", []core.Entry{
		{ChunkID: "a1", Source: "a.md", Text: "content", Vector: scored(0.9)},
	})

	llm := &stubLLM{failures: 1}
	a := newTestAssembler(p, llm, Config{RetryBackoff: time.Millisecond})

	ans, err := a.Answer(context.Background(), "q", []*models.Context{readyContext("ctx-a", "Alpha")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, "stub answer [1]", ans.Text)
}

func TestAnswerGenerationRetryWaitsBackoff(t *testing.T) {
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", []core.Entry{
		{ChunkID: "a1", Source: "a.md", Text: "content", Vector: scored(0.9)},
	})

	llm := &stubLLM{failures: 1}
	backoff := 50 * time.Millisecond
	a := newTestAssembler(p, llm, Config{RetryBackoff: backoff})

	start := time.Now()
	_, err := a.Answer(context.Background(), "q", []*models.Context{readyContext("ctx-a", "Alpha")}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), backoff)
	assert.Equal(t, 2, llm.calls)
}

func TestAnswerGenerationFailure(t *testing.T) {
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", []core.Entry{
		{ChunkID: "a1", Source: "a.md", Text: "content", Vector: scored(0.9)},
	})

	llm := &stubLLM{failures: 2}
	a := newTestAssembler(p, llm, Config{RetryBackoff: time.Millisecond})

	_, err := a.Answer(context.Background(), "q", []*models.Context{readyContext("ctx-a", "Alpha")}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrGenerationFailed))
	assert.Equal(t, 2, llm.calls)
}

func TestAnswerIncludesHistory(t *testing.T) {
	p := index.NewMemProvider()
	seedIndex(t, p, "ctx-a", []core.Entry{
		{ChunkID: "a1", Source: "a.md", Text: "content", Vector: scored(0.9)},
	})

	llm := &stubLLM{}
	a := newTestAssembler(p, llm, Config{HistoryLimit: 2, SearchTimeout: time.Second})

	history := []models.ChatMessage{
		{Role: "user", Content: "older question, trimmed away"},
		{Role: "user", Content: "recent question"},
		{Role: "assistant", Content: "recent answer"},
	}
	_, err := a.Answer(context.Background(), "follow-up", []*models.Context{readyContext("ctx-a", "Alpha")}, history)
	require.NoError(t, err)

	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "recent question")
	assert.Contains(t, prompt, "recent answer")
	assert.NotContains(t, prompt, "older question")
}

func TestAnswerValidatesInput(t *testing.T) {
	a := newTestAssembler(index.NewMemProvider(), &stubLLM{}, Config{})

	_, err := a.Answer(context.Background(), "   ", []*models.Context{readyContext("c", "C")}, nil)
	require.Error(t, err)

	_, err = a.Answer(context.Background(), "q", nil, nil)
	require.Error(t, err)
}

func TestBudgetEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 1, Estimate("abc"))
	assert.Equal(t, 1, Estimate("abcd"))
	assert.Equal(t, 2, Estimate("abcde"))
	assert.Equal(t, 100, Estimate(strings.Repeat("x", 400)))
}

func TestBudgetTryAdd(t *testing.T) {
	b := NewBudget(100)
	assert.True(t, b.TryAdd(150), "first addition always fits")
	assert.False(t, b.TryAdd(1))
	assert.Equal(t, 150, b.Used())

	b = NewBudget(100)
	assert.True(t, b.TryAdd(60))
	assert.True(t, b.TryAdd(40))
	assert.False(t, b.TryAdd(1))
}
