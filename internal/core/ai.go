package core

import "context"

// EmbeddingProvider converts chunk texts and query strings into fixed
// dimension vectors. Batch and query embeddings share one dimensionality for
// a given model configuration, and EmbedBatch returns vectors in input order
// regardless of any internal sub-batching.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// LLMProvider is the narrow language-model capability the answer assembler
// calls. A vendor adapter translates at this boundary; nothing above it
// depends on a specific request/response schema.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}
