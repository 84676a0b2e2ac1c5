package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/processing"
	"github.com/poiesic/docusense/storage"
)

// Progress checkpoints of a running job.
const (
	progressParsed   = 10
	progressEmbedded = 90
)

// Run executes one queued job to completion on the calling goroutine.
// Only one caller can start a given job: the queued to running transition
// is atomic, and losers get ErrJobAlreadyActive or ErrJobAlreadyTerminal.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.jobs.TransitionJob(ctx, jobID, core.JobQueued, core.JobRunning, nil)
	if err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	p.mu.Lock()
	p.running[jobID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
		cancel(nil)
	}()

	logger := p.logger.With("job_id", job.Id, "document_id", job.DocumentId, "collection", job.Collection)
	logger.Info("ingestion job started")
	start := time.Now()

	doc, err := p.execute(jobCtx, job, logger)
	if err != nil {
		if cause := context.Cause(jobCtx); cause != nil {
			err = cause
		}
		if failErr := p.fail(ctx, job, core.JobRunning, err); failErr != nil {
			logger.Error("could not record job failure", "error", failErr)
		}
		return err
	}

	logger.Info("ingestion job completed",
		"chunks", doc.ChunkCount, "title", doc.Title, "duration", time.Since(start))
	return nil
}

// execute parses, embeds and commits the job's document.
func (p *Pipeline) execute(ctx context.Context, job *core.IngestionJob, logger *slog.Logger) (*core.Document, error) {
	doc, err := p.documents.GetDocument(ctx, job.DocumentId)
	if err != nil {
		return nil, err
	}
	if err := storage.CheckCommitOwner(doc, job.Id); err != nil {
		return nil, err
	}
	doc.Status = core.DocumentProcessing
	doc.Error = ""
	if doc, err = p.documents.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	result, err := p.parser.Process(ctx, processing.Source{
		Type:    doc.SourceType,
		Content: doc.Content,
		URL:     doc.Source,
		Title:   doc.Title,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("document parsed", "chunks", len(result.Chunks), "runes", len([]rune(result.Text)))
	p.progress(ctx, job, progressParsed, 0)

	dimension := 0
	col, err := p.documents.GetCollection(ctx, doc.Collection)
	switch {
	case err == nil:
		dimension = col.Dimension
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	for _, c := range result.Chunks {
		c.DocumentId = doc.Id
		c.Collection = doc.Collection
	}
	err = p.embeddingProc.process(ctx, result.Chunks, dimension, func(done, total, attempts int) {
		p.progress(ctx, job, progressParsed+(progressEmbedded-progressParsed)*done/total, attempts)
	})
	if err != nil {
		return nil, err
	}

	// A cancel that arrives after the last batch must still win over the commit.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc.Title = result.Title
	if err := p.chunks.CommitDocument(ctx, doc, job.Id, result.Chunks); err != nil {
		return nil, err
	}
	return doc, nil
}

// progress records job progress. Failures are logged and ignored; progress
// is advisory.
func (p *Pipeline) progress(ctx context.Context, job *core.IngestionJob, percent, attempts int) {
	job.Progress = percent
	if attempts > 0 {
		job.Attempts = attempts
	}
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		p.logger.Debug("could not record job progress", "job_id", job.Id, "error", err)
	}
}

// fail moves job from the given state to failed and marks its document
// failed. It runs even when ctx is already canceled.
func (p *Pipeline) fail(ctx context.Context, job *core.IngestionJob, from core.JobState, cause error) error {
	ctx = context.WithoutCancel(ctx)
	kind := core.KindOf(cause)

	failed, err := p.jobs.TransitionJob(ctx, job.Id, from, core.JobFailed, func(j *core.IngestionJob) {
		j.Error = cause.Error()
		j.ErrorKind = kind
	})
	if err != nil {
		return err
	}

	// A newer job may own the document by now.
	if _, err := p.documents.FailDocument(ctx, failed.DocumentId, failed.Id, cause.Error()); err != nil {
		return err
	}

	p.logger.Warn("ingestion job failed",
		"job_id", failed.Id, "document_id", failed.DocumentId, "kind", kind, "error", cause)
	return nil
}
