// Package index provides the per-context vector index: a pgvector-backed
// implementation for production and an in-process one used by tests and
// single-node deployments without Postgres.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ragline/ragline/internal/core"
)

// MemIndex is an in-memory ContextIndex. Readers operate on an immutable
// snapshot slice; Rebuild and DeleteAll swap the slice wholesale, so a
// concurrent reader sees either the old or the new state, never a mix.
type MemIndex struct {
	dim int

	mu      sync.RWMutex
	entries []core.Entry
}

var _ core.ContextIndex = (*MemIndex)(nil)

func NewMemIndex(dim int) *MemIndex {
	return &MemIndex{dim: dim}
}

func (m *MemIndex) Dim() int { return m.dim }

// Add appends entries after validating dimensionality, leaving existing
// entries untouched.
func (m *MemIndex) Add(ctx context.Context, entries []core.Entry) (int, error) {
	if err := m.check(entries); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]core.Entry, 0, len(m.entries)+len(entries))
	next = append(next, m.entries...)
	next = append(next, entries...)
	m.entries = next
	return len(entries), nil
}

// Search scores every entry by cosine similarity and returns the top k,
// ties broken by insertion order.
func (m *MemIndex) Search(ctx context.Context, query []float32, k int) ([]core.Match, error) {
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index %d", core.ErrDimensionMismatch, len(query), m.dim)
	}

	m.mu.RLock()
	snapshot := m.entries
	m.mu.RUnlock()

	if k > len(snapshot) {
		k = len(snapshot)
	}
	if k <= 0 {
		return nil, nil
	}

	type scored struct {
		pos   int
		score float32
	}
	scores := make([]scored, len(snapshot))
	for i, e := range snapshot {
		scores[i] = scored{pos: i, score: cosine(query, e.Vector)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].pos < scores[j].pos
	})

	out := make([]core.Match, 0, k)
	for _, s := range scores[:k] {
		e := snapshot[s.pos]
		out = append(out, core.Match{
			ChunkID: e.ChunkID,
			Score:   s.score,
			Source:  e.Source,
			Text:    e.Text,
			Meta:    e.Meta,
		})
	}
	return out, nil
}

// Rebuild atomically replaces all entries.
func (m *MemIndex) Rebuild(ctx context.Context, entries []core.Entry) error {
	if err := m.check(entries); err != nil {
		return err
	}
	staged := make([]core.Entry, len(entries))
	copy(staged, entries)

	m.mu.Lock()
	m.entries = staged
	m.mu.Unlock()
	return nil
}

// DeleteAll drops every entry. Idempotent.
func (m *MemIndex) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	return nil
}

func (m *MemIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemIndex) check(entries []core.Entry) error {
	for _, e := range entries {
		if len(e.Vector) != m.dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, index %d",
				core.ErrDimensionMismatch, e.ChunkID, len(e.Vector), m.dim)
		}
	}
	return nil
}

// cosine computes cosine similarity between equal-length vectors.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// MemProvider hands out MemIndex instances keyed by context ID.
type MemProvider struct {
	mu      sync.Mutex
	indexes map[string]*MemIndex
}

var _ core.IndexProvider = (*MemProvider)(nil)

func NewMemProvider() *MemProvider {
	return &MemProvider{indexes: make(map[string]*MemIndex)}
}

func (p *MemProvider) Open(ctx context.Context, contextID string, dim int) (core.ContextIndex, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.indexes[contextID]; ok {
		if idx.dim == dim {
			return idx, nil
		}
		// Only stored entries pin the dimensionality; an emptied index (after
		// DeleteAll) can reopen at a new one, as the persistent provider does.
		if n, _ := idx.Count(ctx); n == 0 {
			fresh := NewMemIndex(dim)
			p.indexes[contextID] = fresh
			return fresh, nil
		}
		return nil, fmt.Errorf("%w: index for %s has dimension %d, want %d",
			core.ErrIndexCorrupt, contextID, idx.dim, dim)
	}
	idx := NewMemIndex(dim)
	p.indexes[contextID] = idx
	return idx, nil
}
