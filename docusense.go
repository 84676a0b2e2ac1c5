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


// Package docusense ties storage, ingestion, retrieval and synthesis into
// a question answering engine over document collections.
package docusense

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/ai/openai"
	"github.com/poiesic/docusense/config"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/ingestion"
	"github.com/poiesic/docusense/processing"
	"github.com/poiesic/docusense/reembed"
	"github.com/poiesic/docusense/search"
	"github.com/poiesic/docusense/storage"
	"github.com/poiesic/docusense/storage/badger"
	"github.com/poiesic/docusense/storage/postgres"
	"github.com/poiesic/docusense/synthesis"
)

// ErrConfigRequired is returned by NewEngine without a configuration.
var ErrConfigRequired = errors.New("config required")

// IngestRequest describes a document to ingest.
type IngestRequest struct {
	Title      string
	SourceType core.SourceType
	// Content is the raw text. URL sources leave it empty and set Source.
	Content  string
	Source   string
	Metadata map[string]string
}

// Engine is the entry point for ingesting documents and asking questions.
// It is safe for concurrent use.
type Engine struct {
	cfg         *config.Config
	repos       *storage.Repositories
	provider    ai.AIProvider
	pipeline    *ingestion.Pipeline
	searcher    *search.Searcher
	synthesizer *synthesis.Synthesizer
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	provider ai.AIProvider
	repos    *storage.Repositories
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the config.
func WithProvider(p ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = p
	}
}

// WithRepositories replaces the store opened from the config.
// The engine takes ownership and closes it.
func WithRepositories(repos *storage.Repositories) EngineOption {
	return func(o *engineOptions) {
		o.repos = repos
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine opens the configured store and provider, starts the ingestion
// workers and recovers jobs left over from a previous run.
func NewEngine(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, ErrConfigRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger.With("component", "engine")
	ctx := context.Background()

	repos := options.repos
	if repos == nil {
		var err error
		repos, err = openRepositories(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			repos.Close()
			return nil, err
		}
	}

	e := &Engine{cfg: cfg, repos: repos, provider: provider, logger: logger}
	if err := e.build(options.logger); err != nil {
		provider.Close()
		repos.Close()
		return nil, err
	}

	if err := e.pipeline.Recover(ctx); err != nil {
		logger.Error("job recovery failed", "error", err)
	}
	return e, nil
}

func openRepositories(ctx context.Context, cfg *config.Config) (*storage.Repositories, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		return postgres.NewRepositories(ctx, cfg.Storage.PostgresDSN)
	default:
		return badger.NewRepositories(cfg.Storage.Path)
	}
}

func (e *Engine) build(logger *slog.Logger) error {
	procOpts, err := e.cfg.ProcessingOptions()
	if err != nil {
		return err
	}
	proc, err := processing.NewProcessor(append(procOpts, processing.WithLogger(logger))...)
	if err != nil {
		return err
	}

	ing := e.cfg.Ingestion
	e.pipeline, err = ingestion.NewPipeline(
		e.repos.Documents, e.repos.Chunks, e.repos.Jobs, e.provider.Embedder(),
		ingestion.WithProcessor(proc),
		ingestion.WithPoolSize(ing.Workers),
		ingestion.WithQueueSize(ing.QueueSize),
		ingestion.WithBatchSize(ing.BatchSize),
		ingestion.WithRetry(ing.MaxAttempts, ing.BaseDelay),
		ingestion.WithEmbeddingTimeout(ing.EmbeddingTimeout),
		ingestion.WithShutdownTimeout(ing.ShutdownTimeout),
		ingestion.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	e.searcher, err = search.NewSearcher(e.repos.Documents, e.repos.Chunks, e.provider.Embedder(),
		search.WithConfig(e.cfg.SearchConfig()),
		search.WithLogger(logger),
	)
	if err != nil {
		e.pipeline.Close()
		return err
	}

	e.synthesizer, err = synthesis.NewSynthesizer(e.provider.Completer(),
		synthesis.WithConfig(e.cfg.SynthesisConfig()),
		synthesis.WithLogger(logger),
	)
	if err != nil {
		e.pipeline.Close()
		return err
	}
	return nil
}

// Close stops the ingestion workers, waiting up to the configured
// shutdown timeout, then closes the provider and the store.
func (e *Engine) Close() error {
	var errs []error
	if err := e.pipeline.Close(); err != nil {
		e.logger.Error("error stopping ingestion", "error", err)
		errs = append(errs, err)
	}
	if err := e.provider.Close(); err != nil {
		e.logger.Error("error closing AI provider", "error", err)
		errs = append(errs, err)
	}
	if err := e.repos.Close(); err != nil {
		e.logger.Error("error closing storage", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Ingest stores a document and queues it for processing. It returns the
// ID of the job tracking it.
func (e *Engine) Ingest(ctx context.Context, collection string, req IngestRequest) (string, error) {
	job, err := e.pipeline.Ingest(ctx, &core.Document{
		Collection: collection,
		Title:      req.Title,
		SourceType: req.SourceType,
		Content:    req.Content,
		Source:     req.Source,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return "", err
	}
	return job.Id, nil
}

// GetJobStatus returns the current state of an ingestion job.
func (e *Engine) GetJobStatus(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	return e.pipeline.GetJob(ctx, jobID)
}

// RetryDocument queues a new job for a failed document.
func (e *Engine) RetryDocument(ctx context.Context, documentID core.ID) (*core.IngestionJob, error) {
	return e.pipeline.Retry(ctx, documentID)
}

// CancelJob stops a queued or running job.
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	return e.pipeline.Cancel(ctx, jobID)
}

// WaitForJob polls a job until it is terminal or ctx is done.
func (e *Engine) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*core.IngestionJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := e.pipeline.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Documents lists the documents of a collection.
func (e *Engine) Documents(ctx context.Context, collection string) ([]*core.Document, error) {
	if err := core.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	return e.repos.Documents.ListDocuments(ctx, collection)
}

// Search returns the k most relevant chunks of collection for query.
func (e *Engine) Search(ctx context.Context, collection, query string, k int) ([]*core.Candidate, error) {
	return e.searcher.Search(ctx, collection, query, k)
}

// Ask answers question from the k best chunks of collection.
// A k of zero uses the configured default.
func (e *Engine) Ask(ctx context.Context, collection, question string, k int) (*core.Answer, error) {
	return e.AskWithMonitor(ctx, collection, question, k, nil)
}

// AskWithMonitor is Ask with retrieval monitoring.
func (e *Engine) AskWithMonitor(ctx context.Context, collection, question string, k int, monitor search.SearchMonitor) (*core.Answer, error) {
	start := time.Now()
	if k == 0 {
		k = e.cfg.Retrieval.DefaultK
	}

	candidates, err := e.searcher.SearchWithMonitor(ctx, collection, question, k, monitor)
	if err != nil {
		return nil, err
	}

	answer, err := e.synthesizer.Synthesize(ctx, question, candidates)
	if err != nil {
		return nil, err
	}
	answer.Collection = collection
	answer.Latency = time.Since(start)

	if e.cfg.Synthesis.LogAnswers {
		if _, err := e.repos.Answers.AddAnswer(ctx, answer); err != nil {
			// The answer is still good; only the log entry is lost.
			e.logger.Warn("failed to log answer", "collection", collection, "error", err)
		}
	}

	e.logger.Info("question answered",
		"collection", collection,
		"answer_id", answer.Id,
		"citations", len(answer.Citations),
		"confidence", answer.Confidence,
		"latency", answer.Latency)
	return answer, nil
}

// Feedback records a rating of +1 or -1 on a logged answer.
func (e *Engine) Feedback(ctx context.Context, answerID core.ID, rating int, note string) error {
	if err := core.ValidateRating(rating); err != nil {
		return err
	}
	if _, err := e.repos.Answers.GetAnswer(ctx, answerID); err != nil {
		return fmt.Errorf("answer %d: %w", answerID, err)
	}
	return e.repos.Answers.AddFeedback(ctx, &core.Feedback{
		AnswerId:  answerID,
		Rating:    rating,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
}

// Answer returns a logged answer with its feedback.
func (e *Engine) Answer(ctx context.Context, answerID core.ID) (*core.Answer, []*core.Feedback, error) {
	answer, err := e.repos.Answers.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, nil, err
	}
	feedback, err := e.repos.Answers.GetFeedback(ctx, answerID)
	if err != nil {
		return nil, nil, err
	}
	return answer, feedback, nil
}

// Reembed re-embeds every chunk of collection with the current provider,
// writing progress to w.
func (e *Engine) Reembed(ctx context.Context, collection string, w io.Writer) (*reembed.Result, error) {
	cfg := reembed.DefaultConfig()
	cfg.BatchSize = e.cfg.Ingestion.BatchSize
	cfg.MaxRetries = e.cfg.Ingestion.MaxAttempts
	cfg.RetryDelay = e.cfg.Ingestion.BaseDelay

	r, err := reembed.NewReembedder(e.repos.Documents, e.repos.Chunks, e.provider.Embedder(), cfg, w)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, collection)
}
