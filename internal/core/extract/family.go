package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ragline/ragline/internal/core"
)

// officeExtensions are formats routed through docconv.
var officeExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".odt": true,
	".rtf": true, ".pptx": true, ".html": true, ".htm": true,
}

// tabularExtensions are row-oriented exports serialised with inlined headers.
var tabularExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".jsonl": true, ".ndjson": true,
}

// textExtensions map plain-text and source-code extensions to a language hint
// used by the structural chunking strategy.
var textExtensions = map[string]string{
	".txt": "text", ".md": "markdown", ".markdown": "markdown", ".rst": "text",
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".java": "java", ".c": "c", ".h": "c", ".cpp": "cpp", ".hpp": "cpp",
	".rs": "rust", ".rb": "ruby", ".php": "php", ".sh": "shell",
	".yaml": "yaml", ".yml": "yaml", ".json": "json", ".xml": "xml",
	".css": "css", ".sql": "sql", ".toml": "toml",
}

// DetectFamily selects the content family for a source unit from its origin
// name and declared content type. Pure function; the registry dispatches on
// its result rather than inspecting payloads at runtime.
func DetectFamily(origin, contentType string) core.ContentFamily {
	ext := strings.ToLower(filepath.Ext(origin))

	switch {
	case officeExtensions[ext]:
		return core.FamilyOffice
	case tabularExtensions[ext]:
		return core.FamilyTabular
	}
	if _, ok := textExtensions[ext]; ok {
		return core.FamilyText
	}

	// No extension signal; fall back to the declared MIME type.
	mime := strings.ToLower(contentType)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch {
	case mime == "application/pdf",
		strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(mime, "application/vnd.oasis.opendocument"),
		mime == "application/msword",
		mime == "text/html":
		return core.FamilyOffice
	case mime == "text/csv", mime == "text/tab-separated-values":
		return core.FamilyTabular
	case strings.HasPrefix(mime, "text/"), mime == "application/json":
		return core.FamilyText
	}

	return core.FamilyUnknown
}

// Registry holds one extractor per content family and dispatches source
// units to the right one. It implements core.Extractor itself so callers
// never choose a family by hand.
type Registry struct {
	byFamily map[core.ContentFamily]core.Extractor
}

// NewRegistry builds the default registry covering all supported families.
func NewRegistry() *Registry {
	return &Registry{
		byFamily: map[core.ContentFamily]core.Extractor{
			core.FamilyOffice:  NewOfficeExtractor(false),
			core.FamilyText:    NewTextExtractor(),
			core.FamilyTabular: NewTabularExtractor(),
		},
	}
}

var _ core.Extractor = (*Registry)(nil)

// Extract routes the unit by detected family.
func (r *Registry) Extract(ctx context.Context, unit core.SourceUnit) (core.Extraction, error) {
	family := DetectFamily(unit.Origin, unit.ContentType)
	ex, ok := r.byFamily[family]
	if !ok {
		return core.Extraction{}, fmt.Errorf("%w: %s (%s)", core.ErrUnsupportedFormat, unit.Origin, unit.ContentType)
	}
	return ex.Extract(ctx, unit)
}
