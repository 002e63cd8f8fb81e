package chunker

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ragline/ragline/internal/core"
)

var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]*\s*`)

// splitSemantic groups sentences into segments, starting a new segment where
// the embedding similarity of adjacent sentences drops below the floor, then
// packs the segments under the usual size ceiling. All sentence embeddings
// are requested in one batched call.
func splitSemantic(ctx context.Context, text string, meta core.StructMeta, opts Options) ([]core.ChunkDraft, error) {
	floor := opts.SimilarityFloor
	if floor == 0 {
		floor = 0.5
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return packUnits([]unit{{text: sentences[0]}}, " ", meta, opts, StrategySemantic), nil
	}

	vecs, err := opts.Embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("chunker: boundary embeddings: %w", err)
	}
	if len(vecs) != len(sentences) {
		return nil, fmt.Errorf("chunker: got %d boundary embeddings for %d sentences", len(vecs), len(sentences))
	}

	var units []unit
	var seg []string
	for i, s := range sentences {
		if i > 0 && cosine(vecs[i-1], vecs[i]) < floor {
			units = append(units, unit{text: strings.Join(seg, " ")})
			seg = seg[:0]
		}
		seg = append(seg, s)
	}
	if len(seg) > 0 {
		units = append(units, unit{text: strings.Join(seg, " ")})
	}

	return packUnits(units, " ", meta, opts, StrategySemantic), nil
}

// splitSentences breaks text into trimmed sentence-level pieces.
func splitSentences(text string) []string {
	var out []string
	for _, m := range sentenceRe.FindAllString(text, -1) {
		if s := strings.TrimSpace(m); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// cosine computes cosine similarity; mismatched or zero vectors score 0.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
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
