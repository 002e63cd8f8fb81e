// Package embed implements the embedding provider adapter: a primary
// provider with bounded retries and exponential backoff, an optional
// fallback provider, sub-batching with order preservation, and a
// process-wide bound on in-flight batches.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ragline/ragline/internal/core"
)

// Provider is one embedding backend. Implementations are safe for
// concurrent use and return vectors parallel to the input slice.
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes the adapter.
type Config struct {
	// Dim is the expected vector dimensionality; provider output that
	// disagrees is treated as a provider failure.
	Dim int

	// MaxBatch caps the texts sent to a provider in one call. Larger inputs
	// are split into sub-batches whose outputs are concatenated in input
	// order. Defaults to 64.
	MaxBatch int

	// MaxAttempts bounds tries per provider before moving on. Defaults to 3.
	MaxAttempts int

	// BaseBackoff seeds the exponential backoff between attempts.
	// Defaults to 500ms.
	BaseBackoff time.Duration

	// RatePerSec limits provider calls per second. Zero disables limiting.
	RatePerSec float64

	// MaxInflight bounds concurrently outstanding provider batches across
	// the whole process. Defaults to 4.
	MaxInflight int64
}

// Adapter implements core.EmbeddingProvider over a primary and optional
// fallback Provider.
type Adapter struct {
	primary  Provider
	fallback Provider
	cfg      Config
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

var _ core.EmbeddingProvider = (*Adapter)(nil)

// New constructs an Adapter. fallback may be nil.
func New(primary Provider, fallback Provider, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if primary == nil {
		return nil, fmt.Errorf("embed: primary provider must not be nil")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embed: dimension must be positive")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	return &Adapter{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		sem:      semaphore.NewWeighted(cfg.MaxInflight),
		logger:   logger,
	}, nil
}

// Dim reports the configured vector dimensionality.
func (a *Adapter) Dim() int { return a.cfg.Dim }

// EmbedBatch embeds texts, splitting into provider-sized sub-batches and
// concatenating results in input order. The ordering guarantee is
// load-bearing for chunk-to-vector alignment.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += a.cfg.MaxBatch {
		end := start + a.cfg.MaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := a.embedSub(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: expected 1 query vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// embedSub runs one provider-sized batch: primary with retries, then the
// fallback with retries, then ErrEmbeddingUnavailable. A batch the provider
// only partially answered is retried whole, never committed partially.
func (a *Adapter) embedSub(ctx context.Context, texts []string) ([][]float32, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.sem.Release(1)

	vecs, primaryErr := a.tryProvider(ctx, a.primary, texts)
	if primaryErr == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if a.fallback != nil {
		a.logger.Warn("primary embedding provider exhausted, falling back",
			"primary", a.primary.Name(), "fallback", a.fallback.Name(), "error", primaryErr)
		vecs, fallbackErr := a.tryProvider(ctx, a.fallback, texts)
		if fallbackErr == nil {
			return vecs, nil
		}
		return nil, fmt.Errorf("%w: primary %s: %v; fallback %s: %v",
			core.ErrEmbeddingUnavailable, a.primary.Name(), primaryErr, a.fallback.Name(), fallbackErr)
	}

	return nil, fmt.Errorf("%w: %s: %v", core.ErrEmbeddingUnavailable, a.primary.Name(), primaryErr)
}

// tryProvider attempts one provider up to MaxAttempts with exponential
// backoff, validating count and dimensionality of the response.
func (a *Adapter) tryProvider(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := a.cfg.BaseBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := p.Embed(ctx, texts)
		if err == nil {
			err = a.validate(vecs, len(texts))
		}
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		a.logger.Debug("embedding attempt failed",
			"provider", p.Name(), "attempt", attempt+1, "batch", len(texts), "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// validate checks the provider returned one vector per text, each with the
// configured dimensionality.
func (a *Adapter) validate(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != a.cfg.Dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), a.cfg.Dim)
		}
	}
	return nil
}
