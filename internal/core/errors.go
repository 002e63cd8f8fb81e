package core

import "errors"

// Pipeline error taxonomy. Extraction-level errors are recoverable per source
// unit; embedding and index errors fail the owning context as a whole.
var (
	// ErrUnsupportedFormat indicates the source unit's content type has no
	// registered extractor. The unit is skipped, the context continues.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtraction indicates a recognised format failed to parse (corrupt
	// file, password-protected document). The unit is skipped.
	ErrExtraction = errors.New("extraction failed")

	// ErrEmbeddingUnavailable indicates every configured embedding provider
	// was exhausted, retries included. Escalates the context to error status.
	ErrEmbeddingUnavailable = errors.New("embedding providers unavailable")

	// ErrDimensionMismatch indicates a vector's length does not match the
	// index's configured dimension. Never silently truncated or padded.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexCorrupt indicates a persisted index could not be read back.
	// The context is marked error rather than recreating an empty index.
	ErrIndexCorrupt = errors.New("context index corrupt")

	// ErrContextNotReady indicates a retrieval precondition failure: the
	// referenced context is missing or not in ready status.
	ErrContextNotReady = errors.New("context not ready")

	// ErrGenerationFailed indicates the language model failed after the
	// single configured retry.
	ErrGenerationFailed = errors.New("generation failed")
)
