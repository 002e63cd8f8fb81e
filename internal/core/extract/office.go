package extract

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"

	"github.com/ragline/ragline/internal/core"
)

// OfficeExtractor handles structured office documents through docconv:
// body text with paragraph boundaries preserved, plus document properties
// (title, author, subject) captured as metadata.
type OfficeExtractor struct {
	useReadability bool
}

func NewOfficeExtractor(useReadability bool) *OfficeExtractor {
	return &OfficeExtractor{useReadability: useReadability}
}

var _ core.Extractor = (*OfficeExtractor)(nil)

func (e *OfficeExtractor) Extract(ctx context.Context, unit core.SourceUnit) (core.Extraction, error) {
	contentType := unit.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(filepath.Ext(unit.Origin))
	}

	res, err := docconv.Convert(bytes.NewReader(unit.Data), contentType, e.useReadability)
	if err != nil {
		return core.Extraction{}, fmt.Errorf("%w: %s: %v", core.ErrExtraction, unit.Origin, err)
	}
	if err := ctx.Err(); err != nil {
		return core.Extraction{}, err
	}

	text := normalizeBody(res.Body)
	if text == "" {
		return core.Extraction{}, fmt.Errorf("%w: %s: empty body", core.ErrExtraction, unit.Origin)
	}

	meta := core.StructMeta{
		Title:   res.Meta["Title"],
		Author:  res.Meta["Author"],
		Subject: res.Meta["Subject"],
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(unit.Origin), filepath.Ext(unit.Origin))
	}

	return core.Extraction{Text: text, Meta: meta}, nil
}

// normalizeBody collapses runs of blank lines so paragraph boundaries survive
// as single blank lines, which the structural chunker splits on.
func normalizeBody(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
