package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/retry"
)

// embeddingProcessor fills chunk vectors through the embedding provider.
type embeddingProcessor struct {
	embedder  ai.Embedder
	batchSize int
	policy    retry.Policy
	timeout   time.Duration
	logger    *slog.Logger
}

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(embedder ai.Embedder, batchSize int, policy retry.Policy, timeout time.Duration, logger *slog.Logger) (*embeddingProcessor, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("embedding batch size must be positive, got %d", batchSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		embedder:  embedder,
		batchSize: batchSize,
		policy:    policy,
		timeout:   timeout,
		logger:    logger.With("processor", "embeddings"),
	}, nil
}

// batchProgress reports a finished or abandoned batch: chunks embedded so
// far, the total, and the attempts the batch used.
type batchProgress func(done, total, attempts int)

// process embeds every chunk. dimension is the collection's pinned
// dimension, or zero when the collection has none yet. Either all chunks
// get vectors of one dimension or an error is returned.
func (ep *embeddingProcessor) process(ctx context.Context, chunks []*core.Chunk, dimension int, progress batchProgress) error {
	ep.logger.Debug("embedding chunks", "chunks", len(chunks), "batch_size", ep.batchSize)

	for start := 0; start < len(chunks); start += ep.batchSize {
		end := min(start+ep.batchSize, len(chunks))
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var vectors [][]float32
		attempts, err := ep.policy.Do(ctx, func(attempt int) error {
			var err error
			vectors, err = ep.embedBatch(ctx, texts)
			if err != nil {
				ep.logger.Warn("embedding batch failed", "attempt", attempt, "batch_start", start, "error", err)
			}
			return err
		})
		if err != nil {
			if progress != nil {
				progress(start, len(chunks), attempts)
			}
			return err
		}

		for i, vector := range vectors {
			if dimension == 0 {
				dimension = len(vector)
			}
			if len(vector) != dimension {
				return fmt.Errorf("%w: provider returned %d dimensions, collection uses %d",
					core.ErrDimensionMismatch, len(vector), dimension)
			}
			batch[i].Vector = vector
		}

		if progress != nil {
			progress(end, len(chunks), attempts)
		}
	}
	return nil
}

// embedBatch makes one provider call under the per-call timeout. Provider
// failures, including the timeout, become ErrEmbeddingUnavailable; a
// cancellation of ctx itself is returned unchanged so it is not retried.
func (ep *embeddingProcessor) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx := ctx
	if ep.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, ep.timeout)
		defer cancel()
	}

	vectors, err := ep.embedder.EmbedTexts(callCtx, texts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, core.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, received %d",
			core.ErrEmbeddingUnavailable, len(texts), len(vectors))
	}
	for _, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector", core.ErrEmbeddingUnavailable)
		}
	}
	return vectors, nil
}
