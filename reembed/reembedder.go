// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

const (
	// DefaultBatchSize is the default number of chunks per embedding call
	DefaultBatchSize = 32

	// dimensionProbe is embedded once to check the provider against the collection.
	dimensionProbe = "dimension probe"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks sent to the embedder per call
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Result summarizes a completed run.
type Result struct {
	Collection string
	Documents  int
	Chunks     int
	Elapsed    time.Duration
}

// Reembedder re-embeds every chunk of a collection.
type Reembedder struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	embedder  ai.Embedder
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	embedder ai.Embedder,
	config *Config,
	progress io.Writer,
) (*Reembedder, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries < 1 {
		return nil, fmt.Errorf("max retries must be positive, got %d", config.MaxRetries)
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		documents: documents,
		chunks:    chunks,
		embedder:  embedder,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(embedder, config.BatchSize, config.MaxRetries, config.RetryDelay),
		iterator:  NewDocumentIterator(documents, chunks),
		logger:    slog.Default().With("component", "reembed"),
	}, nil
}

// Run re-embeds all chunks of collection with the configured embedder.
// Each document's vectors are replaced in one transaction, so a failure
// leaves already finished documents on the new model and the rest on the
// old one; running again completes the switch.
func (r *Reembedder) Run(ctx context.Context, collection string) (*Result, error) {
	if err := core.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	result := &Result{Collection: collection}

	col, err := r.documents.GetCollection(ctx, collection)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && col.ChunkCount == 0) {
		fmt.Fprintf(r.progress, "No chunks found in collection %q\n", collection)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}

	if err := r.checkDimension(ctx, col); err != nil {
		return nil, err
	}

	docCount, chunkCount, err := r.iterator.Count(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d chunks in %d documents (batch size: %d)\n",
		chunkCount, docCount, r.config.BatchSize)
	r.logger.Info("reembedding collection", "collection", collection, "documents", docCount, "chunks", chunkCount)

	tracker := NewProgressTracker(r.progress, chunkCount, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, collection, func(doc *core.Document, chunks []*core.Chunk) error {
		vectors, err := r.processor.Process(ctx, chunks, col.Dimension)
		if err != nil {
			return fmt.Errorf("document %d: %w", doc.Id, err)
		}
		if err := r.chunks.UpdateChunkVectors(ctx, doc.Id, vectors); err != nil {
			return fmt.Errorf("failed to update vectors of document %d: %w", doc.Id, err)
		}

		result.Documents++
		result.Chunks += len(chunks)
		tracker.Add(len(chunks))
		return nil
	})
	tracker.Finish()
	result.Elapsed = tracker.Elapsed()
	if err != nil {
		r.logger.Error("reembedding stopped", "collection", collection, "documents_done", result.Documents, "error", err)
		return result, err
	}

	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %v (%.1f chunks/sec)\n",
		result.Chunks, result.Elapsed.Round(time.Millisecond), float64(result.Chunks)/max(result.Elapsed.Seconds(), 1e-9))
	return result, nil
}

// checkDimension embeds a probe text and compares its size with the
// collection's pinned dimension before anything is written.
func (r *Reembedder) checkDimension(ctx context.Context, col *core.Collection) error {
	vector, err := r.embedder.EmbedText(ctx, dimensionProbe)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	if len(vector) != col.Dimension {
		return fmt.Errorf("%w: provider produces %d dimensions, collection %q is pinned to %d; ingest into a new collection instead",
			core.ErrDimensionMismatch, len(vector), col.Name, col.Dimension)
	}
	return nil
}
