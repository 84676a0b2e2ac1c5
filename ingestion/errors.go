package ingestion

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrPipelineClosed is returned when work is submitted after Close.
	ErrPipelineClosed = errors.New("pipeline closed")

	// ErrQueueFull is returned when the job queue cannot accept more work.
	// The job stays queued and is picked up again by Recover.
	ErrQueueFull = errors.New("job queue full")

	// ErrShutdownTimeout is returned by Close when jobs ignore cancellation.
	ErrShutdownTimeout = errors.New("ingestion jobs did not stop in time")
)
