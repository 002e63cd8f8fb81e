package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/internal/core"
)

func TestSplitFixedBounds(t *testing.T) {
	text := strings.Repeat("a", 3000)

	drafts, err := Split(context.Background(), text, core.StructMeta{}, Options{
		Strategy: StrategyFixed,
		MaxChars: 1000,
		Overlap:  100,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 4)

	for i, d := range drafts {
		assert.Equal(t, i, d.Position)
		assert.Equal(t, StrategyFixed, d.Strategy)
		assert.LessOrEqual(t, len([]rune(d.Text)), 1000)
	}
	assert.Len(t, drafts[0].Text, 1000)
	assert.Len(t, drafts[3].Text, 300)
}

func TestSplitFixedOverlapRoundTrip(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("0123456789")
	}
	text := b.String()

	drafts, err := Split(context.Background(), text, core.StructMeta{}, Options{
		Strategy: StrategyFixed,
		MaxChars: 1000,
		Overlap:  100,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 4)

	// Each chunk starts with the last 100 runes of its predecessor.
	for i := 1; i < len(drafts); i++ {
		prev := []rune(drafts[i-1].Text)
		cur := []rune(drafts[i].Text)
		assert.Equal(t, string(prev[len(prev)-100:]), string(cur[:100]), "chunk %d", i)
	}

	// Dropping each chunk's leading overlap reconstructs the input.
	var rebuilt strings.Builder
	rebuilt.WriteString(drafts[0].Text)
	for i := 1; i < len(drafts); i++ {
		rebuilt.WriteString(string([]rune(drafts[i].Text)[100:]))
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplitShortInputSingleChunk(t *testing.T) {
	text := strings.Repeat("x", 50)

	drafts, err := Split(context.Background(), text, core.StructMeta{}, Options{
		Strategy: StrategyFixed,
		MaxChars: 1000,
		Overlap:  100,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, text, drafts[0].Text)
	assert.Equal(t, 0, drafts[0].Position)
}

func TestSplitEmptyInput(t *testing.T) {
	drafts, err := Split(context.Background(), "", core.StructMeta{}, Options{Strategy: StrategyFixed})
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestSplitClampsDegenerateOverlap(t *testing.T) {
	// Overlap >= MaxChars must not produce a non-positive stride.
	text := strings.Repeat("b", 500)
	drafts, err := Split(context.Background(), text, core.StructMeta{}, Options{
		Strategy: StrategyFixed,
		MaxChars: 100,
		Overlap:  100,
	})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)
	for i, d := range drafts {
		assert.Equal(t, i, d.Position)
	}
}

func TestSplitUnknownStrategy(t *testing.T) {
	_, err := Split(context.Background(), "text", core.StructMeta{}, Options{Strategy: "recursive"})
	require.Error(t, err)
}

func TestSplitStructuralMarkdownSections(t *testing.T) {
	text := "# Intro\nOpening paragraph.\n\nSecond paragraph under intro.\n\n# Usage\nHow to use it."

	drafts, err := Split(context.Background(), text, core.StructMeta{Language: "markdown"}, Options{
		Strategy: StrategyStructural,
		MaxChars: 60,
		Overlap:  0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)

	var sections []string
	for _, d := range drafts {
		assert.Equal(t, StrategyStructural, d.Strategy)
		sections = append(sections, d.Section)
	}
	assert.Contains(t, sections, "Intro")
	assert.Contains(t, sections, "Usage")
}

func TestSplitStructuralOverlapCarryRespectsMaxChars(t *testing.T) {
	// A unit that fits MaxChars on its own but not together with the
	// carried overlap must not produce an unflagged over-limit chunk.
	text := strings.Repeat("a", 200) + "\n\n" + strings.Repeat("b", 950)

	drafts, err := Split(context.Background(), text, core.StructMeta{Language: "markdown"}, Options{
		Strategy: StrategyStructural,
		MaxChars: 1000,
		Overlap:  100,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	for _, d := range drafts {
		if !d.Oversized {
			assert.LessOrEqual(t, len([]rune(d.Text)), 1000, "chunk %d", d.Position)
		}
	}

	// The split-off piece is still seeded with the predecessor's overlap.
	assert.True(t, strings.HasPrefix(drafts[1].Text, strings.Repeat("a", 100)))
	overlap := tail(drafts[1].Text, 100)
	assert.True(t, strings.HasPrefix(drafts[2].Text, overlap))
}

func TestSplitStructuralAtomicTableOversized(t *testing.T) {
	var rows []string
	rows = append(rows, "| id | name | value |", "|----|------|-------|")
	for i := 0; i < 20; i++ {
		rows = append(rows, "| 1 | aaaaaaaaaa | bbbbbbbbbb |")
	}
	table := strings.Join(rows, "\n")
	text := "Prose before the table.\n\n" + table

	drafts, err := Split(context.Background(), text, core.StructMeta{Language: "markdown"}, Options{
		Strategy: StrategyStructural,
		MaxChars: 100,
		Overlap:  10,
	})
	require.NoError(t, err)

	var oversized *core.ChunkDraft
	for i := range drafts {
		if drafts[i].Oversized {
			oversized = &drafts[i]
		}
	}
	require.NotNil(t, oversized, "table block larger than the ceiling must be kept whole and flagged")
	assert.Equal(t, table, oversized.Text)
}

func TestSplitStructuralGoDeclarations(t *testing.T) {
	text := strings.Join([]string{
		"package demo",
		"",
		"func Add(a, b int) int {",
		"\treturn a + b",
		"}",
		"",
		"func Sub(a, b int) int {",
		"\treturn a - b",
		"}",
	}, "\n")

	drafts, err := Split(context.Background(), text, core.StructMeta{Language: "go"}, Options{
		Strategy: StrategyStructural,
		MaxChars: 40,
		Overlap:  0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, drafts)

	var sections []string
	for _, d := range drafts {
		sections = append(sections, d.Section)
	}
	assert.Contains(t, sections, "func Add(a, b int) int")
	assert.Contains(t, sections, "func Sub(a, b int) int")
}

func TestSplitSemanticBoundary(t *testing.T) {
	// Two sentences about one topic, then an unrelated one. The stub scores
	// the first pair as similar and the final pair as dissimilar.
	text := "Dogs are loyal. Dogs love walks. Quantum computers use qubits."
	byText := map[string][]float32{
		"Dogs are loyal.":               {1, 0},
		"Dogs love walks.":              {0.9, 0.1},
		"Quantum computers use qubits.": {0, 1},
	}
	embed := func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, s := range texts {
			v, ok := byText[s]
			if !ok {
				t.Fatalf("unexpected sentence %q", s)
			}
			out[i] = v
		}
		return out, nil
	}

	drafts, err := Split(context.Background(), text, core.StructMeta{}, Options{
		Strategy: StrategySemantic,
		MaxChars: 500,
		Overlap:  0,
		Embed:    embed,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "Dogs are loyal. Dogs love walks.", drafts[0].Text)
	assert.Equal(t, "Quantum computers use qubits.", drafts[1].Text)
	assert.Equal(t, StrategySemantic, drafts[0].Strategy)
}

func TestSplitSemanticRequiresEmbedFunc(t *testing.T) {
	_, err := Split(context.Background(), "Some text.", core.StructMeta{}, Options{Strategy: StrategySemantic})
	require.Error(t, err)
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("deterministic input. ", 200)
	opts := Options{Strategy: StrategyFixed, MaxChars: 300, Overlap: 50}

	first, err := Split(context.Background(), text, core.StructMeta{}, opts)
	require.NoError(t, err)
	second, err := Split(context.Background(), text, core.StructMeta{}, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
