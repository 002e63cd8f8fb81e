package chunker

import "github.com/ragline/ragline/internal/core"

// splitFixed splits by rune count with fixed overlap. Each chunk after the
// first begins with the trailing Overlap runes of its predecessor, so the
// stride is MaxChars-Overlap and concatenating the non-overlap regions
// reconstructs the input exactly.
func splitFixed(text string, meta core.StructMeta, opts Options) []core.ChunkDraft {
	runes := []rune(text)
	stride := opts.MaxChars - opts.Overlap

	var out []core.ChunkDraft
	for start := 0; start < len(runes); start += stride {
		end := start + opts.MaxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, draft(len(out), string(runes[start:end]), "", StrategyFixed, meta, false))
		if end == len(runes) {
			break
		}
	}
	return out
}
