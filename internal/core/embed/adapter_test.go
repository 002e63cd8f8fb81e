package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/core"
	"github.com/ragline/ragline/internal/logging"
)

// scriptedProvider fails its first failures calls, then answers with vectors
// derived from the input so ordering is checkable.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	failures int
	calls    int
	dim      int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, fmt.Errorf("%s: transient failure %d", p.name, p.calls)
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		v := make([]float32, p.dim)
		v[0] = float32(len(s))
		out[i] = v
	}
	return out, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testConfig() Config {
	return Config{Dim: 4, MaxBatch: 64, MaxAttempts: 3, BaseBackoff: time.Millisecond}
}

func TestEmbedBatchRetriesOnce(t *testing.T) {
	primary := &scriptedProvider{name: "primary", failures: 1, dim: 4}
	a, err := New(primary, nil, testConfig(), logging.NewNop())
	require.NoError(t, err)

	vecs, err := a.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 2, primary.callCount(), "one failure plus one success")
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
}

func TestEmbedBatchFallsBack(t *testing.T) {
	primary := &scriptedProvider{name: "primary", failures: 100, dim: 4}
	fallback := &scriptedProvider{name: "fallback", dim: 4}
	a, err := New(primary, fallback, testConfig(), logging.NewNop())
	require.NoError(t, err)

	vecs, err := a.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, 3, primary.callCount(), "primary exhausted its attempts")
	assert.Equal(t, 1, fallback.callCount())
}

func TestEmbedBatchUnavailable(t *testing.T) {
	primary := &scriptedProvider{name: "primary", failures: 100, dim: 4}
	fallback := &scriptedProvider{name: "fallback", failures: 100, dim: 4}
	a, err := New(primary, fallback, testConfig(), logging.NewNop())
	require.NoError(t, err)

	_, err = a.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrEmbeddingUnavailable))
	assert.Equal(t, 3, primary.callCount())
	assert.Equal(t, 3, fallback.callCount())
}

func TestEmbedBatchSubBatchOrdering(t *testing.T) {
	primary := &scriptedProvider{name: "primary", dim: 4}
	cfg := testConfig()
	cfg.MaxBatch = 2
	a, err := New(primary, nil, cfg, logging.NewNop())
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := a.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, 3, primary.callCount(), "five texts in batches of two")
	for i, s := range texts {
		assert.Equal(t, float32(len(s)), vecs[i][0], "vector %d out of order", i)
	}
}

func TestEmbedBatchRejectsWrongDimension(t *testing.T) {
	// Provider answers with 3-dim vectors against a 4-dim adapter.
	primary := &scriptedProvider{name: "primary", dim: 3}
	a, err := New(primary, nil, testConfig(), logging.NewNop())
	require.NoError(t, err)

	_, err = a.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrEmbeddingUnavailable))
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	primary := &scriptedProvider{name: "primary", dim: 4}
	a, err := New(primary, nil, testConfig(), logging.NewNop())
	require.NoError(t, err)

	vecs, err := a.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Equal(t, 0, primary.callCount())
}

func TestEmbedQuery(t *testing.T) {
	primary := &scriptedProvider{name: "primary", dim: 4}
	a, err := New(primary, nil, testConfig(), logging.NewNop())
	require.NoError(t, err)

	vec, err := a.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.Equal(t, float32(5), vec[0])
}

func TestEmbedBatchRespectsCancellation(t *testing.T) {
	primary := &scriptedProvider{name: "primary", failures: 100, dim: 4}
	a, err := New(primary, nil, testConfig(), logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.EmbedBatch(ctx, []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
