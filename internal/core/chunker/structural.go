package chunker

import (
	"regexp"
	"strings"

	"github.com/ragline/ragline/internal/core"
)

// unit is one structural piece of the input: a paragraph, a code declaration
// with its body, a table block, or a sentence group (semantic strategy).
// Atomic units are never split mid-structure even when oversized.
type unit struct {
	text    string
	section string
	atomic  bool
}

var headingRe = regexp.MustCompile(`^#{1,6}\s+(..*)$`)

// declPrefixes lists, per language, the line prefixes that open a new
// top-level structural unit in source code.
var declPrefixes = map[string][]string{
	"go":         {"func ", "type ", "const (", "var (", "package "},
	"python":     {"def ", "class ", "async def "},
	"javascript": {"function ", "class ", "export ", "async function "},
	"typescript": {"function ", "class ", "export ", "interface ", "async function "},
	"java":       {"public ", "private ", "protected ", "class ", "interface "},
	"c":          {"static ", "struct ", "void ", "int ", "char "},
	"cpp":        {"static ", "struct ", "class ", "void ", "int ", "template"},
	"rust":       {"fn ", "pub fn ", "struct ", "impl ", "enum ", "trait "},
	"ruby":       {"def ", "class ", "module "},
}

// splitStructural parses the text into structural units for its content kind
// and packs them into size-bounded chunks, re-deriving overlap from the tail
// of each emitted chunk.
func splitStructural(text string, meta core.StructMeta, opts Options) []core.ChunkDraft {
	units, sep := parseUnits(text, meta)
	return packUnits(units, sep, meta, opts, StrategyStructural)
}

// parseUnits selects the boundary rule for the content and returns the units
// plus the separator used to rejoin them inside a chunk.
func parseUnits(text string, meta core.StructMeta) ([]unit, string) {
	if prefixes, ok := declPrefixes[meta.Language]; ok {
		return codeUnits(text, prefixes), "\n"
	}
	if meta.Table {
		return lineUnits(text, meta.Section), "\n"
	}
	return docUnits(text), "\n\n"
}

// codeUnits groups lines into declaration-bounded units. The declaration line
// itself names the section.
func codeUnits(text string, prefixes []string) []unit {
	lines := strings.Split(text, "\n")
	var units []unit
	var buf []string
	section := ""

	flush := func() {
		if len(buf) == 0 {
			return
		}
		units = append(units, unit{text: strings.Join(buf, "\n"), section: section})
		buf = buf[:0]
	}

	for _, line := range lines {
		if isDecl(line, prefixes) {
			flush()
			section = strings.TrimSpace(line)
			if i := strings.IndexByte(section, '{'); i > 0 {
				section = strings.TrimSpace(section[:i])
			}
		}
		buf = append(buf, line)
	}
	flush()
	return units
}

func isDecl(line string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// docUnits splits document text on headings and blank lines. Pipe-table
// blocks are kept whole and flagged atomic.
func docUnits(text string) []unit {
	blocks := strings.Split(text, "\n\n")
	var units []unit
	section := ""

	for _, block := range blocks {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		// A heading opens a new section and travels with the block below it.
		if m := headingRe.FindStringSubmatch(firstLine(block)); m != nil {
			section = strings.TrimSpace(m[1])
		}
		units = append(units, unit{
			text:    block,
			section: section,
			atomic:  isTableBlock(block),
		})
	}
	return units
}

// lineUnits treats every line as a unit; used for serialised table rows.
func lineUnits(text string, section string) []unit {
	var units []unit
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		units = append(units, unit{text: line, section: section})
	}
	return units
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// isTableBlock reports whether every line of the block is a markdown table row.
func isTableBlock(block string) bool {
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return false
	}
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "|") {
			return false
		}
	}
	return true
}

// packUnits accumulates units into chunks bounded by MaxChars. Each new chunk
// re-reads the trailing Overlap runes of its predecessor. An atomic unit
// larger than MaxChars is emitted alone with the oversized flag; a splittable
// oversized unit falls back to size-based splitting.
func packUnits(units []unit, sep string, meta core.StructMeta, opts Options, strategy string) []core.ChunkDraft {
	var out []core.ChunkDraft
	var buf strings.Builder
	carry := ""
	section := ""

	emit := func(text, section string, oversized bool) {
		out = append(out, draft(len(out), text, section, strategy, meta, oversized))
		carry = tail(text, opts.Overlap)
	}

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		emit(buf.String(), section, false)
		buf.Reset()
	}

	for _, u := range units {
		runes := len([]rune(u.text))
		if runes > opts.MaxChars {
			flush()
			if u.atomic {
				emit(u.text, u.section, true)
				continue
			}
			// Fall back to size-based splitting inside the oversized unit,
			// seeding the first piece with the carried overlap.
			pieceMeta := meta
			for _, piece := range splitFixed(carry+u.text, pieceMeta, opts) {
				emit(piece.Text, u.section, false)
			}
			continue
		}

		candidate := buf.Len() + len(sep) + len(u.text)
		if buf.Len() > 0 && candidate > opts.MaxChars {
			flush()
		}
		if buf.Len() == 0 {
			section = u.section
			if carry != "" {
				// The carry and separator count against the ceiling too.
				if len(carry)+len(sep)+len(u.text) > opts.MaxChars {
					for _, piece := range splitFixed(carry+sep+u.text, meta, opts) {
						emit(piece.Text, u.section, false)
					}
					continue
				}
				buf.WriteString(carry)
				buf.WriteString(sep)
			}
		} else {
			buf.WriteString(sep)
		}
		buf.WriteString(u.text)
	}
	flush()
	return out
}
