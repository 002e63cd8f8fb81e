// Package chunker splits extracted text into bounded, overlapping chunks.
// Splitting is deterministic and stateless: re-invoking on the same input
// with identical options yields the same sequence.
package chunker

import (
	"context"
	"fmt"

	"github.com/ragline/ragline/internal/core"
)

// Chunking strategies selectable per context.
const (
	// StrategyFixed splits by character count with fixed overlap; the
	// fallback when no structure is detected.
	StrategyFixed = "fixed"

	// StrategyStructural splits on structural boundaries appropriate to the
	// content kind (headings for documents, function/class boundaries for
	// code) before falling back to size-based splitting inside an oversized
	// unit.
	StrategyStructural = "structural"

	// StrategySemantic splits where adjacent sentence embedding similarity
	// drops below a threshold, subject to the same size ceiling.
	StrategySemantic = "semantic"
)

// EmbedFunc supplies sentence embeddings for the semantic strategy. The
// implementation batches candidate-boundary calls internally.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Options tunes a single Split invocation.
type Options struct {
	Strategy string
	MaxChars int
	Overlap  int

	// Embed is required by StrategySemantic and ignored otherwise.
	Embed EmbedFunc

	// SimilarityFloor is the semantic boundary threshold; adjacent sentences
	// whose cosine similarity falls below it start a new segment. Zero means
	// the default of 0.5.
	SimilarityFloor float32
}

// Split chunks text according to the selected strategy. Empty input yields an
// empty sequence; well-formed text never fails except when the semantic
// strategy cannot obtain embeddings.
func Split(ctx context.Context, text string, meta core.StructMeta, opts Options) ([]core.ChunkDraft, error) {
	if opts.MaxChars <= 0 {
		opts.MaxChars = 1000
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.MaxChars {
		opts.Overlap = opts.MaxChars / 10
	}
	if text == "" {
		return nil, nil
	}

	switch opts.Strategy {
	case StrategyStructural:
		return splitStructural(text, meta, opts), nil
	case StrategySemantic:
		if opts.Embed == nil {
			return nil, fmt.Errorf("chunker: semantic strategy requires an embed func")
		}
		return splitSemantic(ctx, text, meta, opts)
	case StrategyFixed, "":
		return splitFixed(text, meta, opts), nil
	default:
		return nil, fmt.Errorf("chunker: unknown strategy %q", opts.Strategy)
	}
}

// estimateTokens is a cheap token estimator (~4 chars ≈ 1 token).
func estimateTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// tail returns the trailing n runes of s.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// draft builds a ChunkDraft with the shared metadata filled in.
func draft(pos int, text, section, strategy string, meta core.StructMeta, oversized bool) core.ChunkDraft {
	if section == "" {
		section = meta.Section
	}
	return core.ChunkDraft{
		Position:      pos,
		Text:          text,
		Section:       section,
		Table:         meta.Table,
		Language:      meta.Language,
		Strategy:      strategy,
		Oversized:     oversized,
		TokenEstimate: estimateTokens(text),
	}
}
