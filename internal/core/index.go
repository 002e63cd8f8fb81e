package core

import "context"

// ContextIndex is the persisted vector-search structure for one context's
// chunks. A context has at most one concurrent writer (its ingestion run) and
// any number of concurrent readers; readers during a Rebuild observe either
// the pre-rebuild or post-rebuild state, never a torn mix.
type ContextIndex interface {
	// Add appends entries without disturbing existing ones and returns the
	// number written. Safe to call repeatedly for incremental ingestion.
	// A vector whose length differs from Dim() fails with ErrDimensionMismatch.
	Add(ctx context.Context, entries []Entry) (int, error)

	// Search returns up to k matches ordered by descending similarity,
	// ties broken by insertion order (earlier wins). k is capped at the
	// index's current size.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)

	// Rebuild atomically replaces all entries: staged first, then swapped in,
	// so the index is never readable in a partially rebuilt state.
	Rebuild(ctx context.Context, entries []Entry) error

	// DeleteAll removes the index and its backing storage. Idempotent.
	DeleteAll(ctx context.Context) error

	// Count reports the searchable chunk count. The index is the single
	// source of truth for this number.
	Count(ctx context.Context) (int, error)

	// Dim is the configured vector dimensionality for the life of the index.
	Dim() int
}

// IndexProvider opens the context index identified by a context's handle.
// A corrupt or unreadable persisted index surfaces ErrIndexCorrupt rather
// than silently yielding an empty one.
type IndexProvider interface {
	Open(ctx context.Context, contextID string, dim int) (ContextIndex, error)
}
