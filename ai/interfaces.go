package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts
	// and has the same length.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Prompt is the input to a completion. System carries the instructions,
// User the question and its context.
type Prompt struct {
	System string
	User   string
}

// Completer produces text from a prompt using a language model.
// Implementations must be thread-safe for concurrent use.
type Completer interface {
	// Complete returns the model's response to prompt.
	// Deadlines are taken from ctx; implementations do not retry.
	Complete(ctx context.Context, prompt Prompt) (string, error)

	// Model names the model used, for answer logs.
	Model() string
}

// AIProvider aggregates the AI services used by the pipeline.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Completer returns the language model service.
	// The returned Completer is safe for concurrent use.
	Completer() Completer

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
