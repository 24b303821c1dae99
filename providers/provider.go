package providers

import "context"

// EmbeddingProvider turns text into fixed-length vectors. The vector
// dimensionality is fixed per deployment and validated against the semantic
// store's configured dimension at startup.
type EmbeddingProvider interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order; result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the provider's vector dimensionality.
	Dimensions() int

	// MaxBatchSize returns the largest batch one EmbedBatch call accepts.
	MaxBatchSize() int
}

// CompleteOptions tunes a single completion call.
type CompleteOptions struct {
	Temperature float32
	MaxTokens   int
}

// CompletionProvider produces text completions. It is used only for
// compression summaries and episodic→semantic distillation, and must be
// callable with a deadline.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
}
