package reembed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/retry"
)

// BatchProcessor generates embeddings for the chunks of one document.
type BatchProcessor struct {
	embedder  ai.Embedder
	batchSize int
	policy    retry.Policy
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for each embedding API call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(embedder ai.Embedder, batchSize, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchProcessor{
		embedder:  embedder,
		batchSize: batchSize,
		policy: retry.Policy{
			MaxAttempts: maxRetries,
			BaseDelay:   retryBaseDelay,
			Retryable:   retryable,
		},
	}
}

// Process embeds chunks and returns their new vectors keyed by chunk ID.
// Every vector must have dimension entries. Vectors are normalized after
// embedding; cosine similarity is unaffected.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk, dimension int) (map[core.ID][]float32, error) {
	vectors := make(map[core.ID][]float32, len(chunks))

	for start := 0; start < len(chunks); start += bp.batchSize {
		batch := chunks[start:min(start+bp.batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		// Generate embeddings with retry
		var embeddings [][]float32
		attempts, err := bp.policy.Do(ctx, func(int) error {
			var err error
			embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: failed to generate embeddings after %d attempts: %w",
				core.ErrEmbeddingUnavailable, attempts, err)
		}

		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("%w: embedding count mismatch: expected %d, got %d",
				core.ErrEmbeddingUnavailable, len(batch), len(embeddings))
		}

		for i, c := range batch {
			if len(embeddings[i]) != dimension {
				return nil, fmt.Errorf("%w: provider returned %d dimensions, collection uses %d",
					core.ErrDimensionMismatch, len(embeddings[i]), dimension)
			}
			vectors[c.Id] = NormalizeVector(embeddings[i])
		}
	}

	return vectors, nil
}

// retryable treats everything but cancellation as transient; the provider
// client does not classify its own errors.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
