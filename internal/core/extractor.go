package core

import "context"

// Extractor converts one source unit into plain text plus structural
// metadata. Implementations are stateless and safe for concurrent use; one
// implementation exists per content family.
//
// Extract fails with ErrUnsupportedFormat when the content type is not
// recognised and ErrExtraction when parsing fails. Both are recoverable per
// unit: the orchestrator skips the unit and continues the context.
type Extractor interface {
	Extract(ctx context.Context, unit SourceUnit) (Extraction, error)
}
