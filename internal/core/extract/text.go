package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ragline/ragline/internal/core"
)

// TextExtractor passes plain text, markup and source code through largely
// unchanged, detecting the language from the file extension so downstream
// chunking can split on structural boundaries.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

var _ core.Extractor = (*TextExtractor)(nil)

func (e *TextExtractor) Extract(ctx context.Context, unit core.SourceUnit) (core.Extraction, error) {
	data := bytes.TrimPrefix(unit.Data, []byte{0xEF, 0xBB, 0xBF}) // strip UTF-8 BOM
	if !utf8.Valid(data) {
		return core.Extraction{}, fmt.Errorf("%w: %s: not valid UTF-8", core.ErrExtraction, unit.Origin)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	meta := core.StructMeta{
		Title:    strings.TrimSuffix(filepath.Base(unit.Origin), filepath.Ext(unit.Origin)),
		Language: detectLanguage(unit.Origin),
	}

	return core.Extraction{Text: text, Meta: meta}, nil
}

// detectLanguage maps a file extension to a language hint; "text" when unknown.
func detectLanguage(origin string) string {
	if lang, ok := textExtensions[strings.ToLower(filepath.Ext(origin))]; ok {
		return lang
	}
	return "text"
}
