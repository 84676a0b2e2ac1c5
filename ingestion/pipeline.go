package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docusense/ai"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/processing"
	"github.com/poiesic/docusense/retry"
	"github.com/poiesic/docusense/storage"
)

// Default pipeline settings.
const (
	DefaultBatchSize        = 32
	DefaultMaxAttempts      = 3
	DefaultBaseDelay        = 500 * time.Millisecond
	DefaultMaxDelay         = 10 * time.Second
	DefaultEmbeddingTimeout = 30 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultQueueSize        = 1024
)

// Pipeline orchestrates asynchronous document ingestion.
// Jobs for different documents run in parallel on a worker pool; a single
// job only ever runs on one worker.
type Pipeline struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
	jobs      storage.JobRepository
	parser    parser
	embedder  ai.Embedder

	poolSize        int
	batchSize       int
	policy          retry.Policy
	embedTimeout    time.Duration
	shutdownTimeout time.Duration
	queueSize       int

	embeddingProc *embeddingProcessor
	pool          *ants.Pool
	queue         chan string
	stop          chan struct{}
	dispatched    sync.WaitGroup
	inflight      sync.WaitGroup

	// ctx is the parent of every job context; Close cancels it only after
	// the shutdown timeout expires.
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelCauseFunc

	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of concurrent ingestion workers.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithProcessor replaces the default document processor.
func WithProcessor(proc *processing.Processor) Option {
	return func(p *Pipeline) error {
		if proc == nil {
			return errors.New("processor is nil")
		}
		p.parser = proc
		return nil
	}
}

// WithBatchSize sets how many chunks go to the embedding provider per call.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		p.batchSize = n
		return nil
	}
}

// WithRetry sets the attempt bound and base backoff of embedding calls.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		p.policy.MaxAttempts = maxAttempts
		p.policy.BaseDelay = baseDelay
		return nil
	}
}

// WithEmbeddingTimeout bounds each embedding provider call.
func WithEmbeddingTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.embedTimeout = d
		return nil
	}
}

// WithShutdownTimeout bounds how long Close waits for running jobs.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.shutdownTimeout = d
		return nil
	}
}

// WithQueueSize sets the capacity of the in-process job queue.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("queue size must be positive, got %d", n)
		}
		p.queueSize = n
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline and starts its workers.
func NewPipeline(
	documents storage.DocumentRepository,
	chunks storage.ChunkRepository,
	jobs storage.JobRepository,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	p := &Pipeline{
		documents: documents,
		chunks:    chunks,
		jobs:      jobs,
		embedder:  embedder,
		poolSize:  poolSize,
		batchSize: DefaultBatchSize,
		policy: retry.Policy{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
			MaxDelay:    DefaultMaxDelay,
			Retryable:   core.IsRetryable,
		},
		embedTimeout:    DefaultEmbeddingTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		queueSize:       DefaultQueueSize,
		running:         make(map[string]context.CancelCauseFunc),
		logger:          slog.Default().With("component", "ingestion"),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.parser == nil {
		proc, err := processing.NewProcessor(processing.WithLogger(p.logger))
		if err != nil {
			return nil, err
		}
		p.parser = proc
	}

	embeddingProc, err := newEmbeddingProcessor(embedder, p.batchSize, p.policy, p.embedTimeout, p.logger)
	if err != nil {
		return nil, err
	}
	p.embeddingProc = embeddingProc

	pool, err := ants.NewPool(p.poolSize, ants.WithPanicHandler(func(v any) {
		p.logger.Error("ingestion worker panicked", "panic", v)
	}))
	if err != nil {
		return nil, err
	}
	p.pool = pool

	p.ctx, p.cancel = context.WithCancelCause(context.Background())
	p.queue = make(chan string, p.queueSize)
	p.stop = make(chan struct{})
	p.dispatched.Add(1)
	go p.dispatch()

	return p, nil
}

// dispatch feeds queued job IDs to the worker pool. Submit blocks while
// every worker is busy, which keeps Ingest itself non-blocking.
func (p *Pipeline) dispatch() {
	defer p.dispatched.Done()
	for {
		var jobID string
		select {
		case <-p.stop:
			return
		case jobID = <-p.queue:
		}

		// Close waits on inflight after setting closed, so no Add may follow it.
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.inflight.Add(1)
		p.mu.Unlock()

		err := p.pool.Submit(func() {
			defer p.inflight.Done()
			select {
			case <-p.stop:
				// Shutting down; the job stays queued for Recover.
				return
			default:
			}
			if err := p.Run(p.ctx, jobID); err != nil {
				p.logger.Debug("job did not complete", "job_id", jobID, "error", err)
			}
		})
		if err != nil {
			p.inflight.Done()
			p.logger.Warn("could not submit job, leaving it queued", "job_id", jobID, "error", err)
		}
	}
}

// enqueue hands a job ID to the dispatcher without blocking.
func (p *Pipeline) enqueue(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	select {
	case p.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Ingest stores doc as a pending document with a queued job and schedules
// the job. It returns as soon as the job is recorded.
func (p *Pipeline) Ingest(ctx context.Context, doc *core.Document) (*core.IngestionJob, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}
	doc.Status = core.DocumentPending

	added, err := p.documents.AddDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	job, err := p.newJob(ctx, added)
	if err != nil {
		return nil, err
	}

	p.logger.Info("document queued for ingestion",
		"document_id", added.Id, "collection", added.Collection, "job_id", job.Id)
	return job, p.schedule(job)
}

// newJob records a queued job for doc and points the document at it.
func (p *Pipeline) newJob(ctx context.Context, doc *core.Document) (*core.IngestionJob, error) {
	job := &core.IngestionJob{
		Id:         uuid.NewString(),
		DocumentId: doc.Id,
		Collection: doc.Collection,
		State:      core.JobQueued,
	}
	if err := p.jobs.AddJob(ctx, job); err != nil {
		return nil, err
	}

	doc.JobId = job.Id
	doc.Status = core.DocumentPending
	doc.Error = ""
	if _, err := p.documents.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return job, nil
}

// schedule enqueues a job. A full queue is not an error for the caller:
// the job is durable and Recover will pick it up.
func (p *Pipeline) schedule(job *core.IngestionJob) error {
	err := p.enqueue(job.Id)
	if errors.Is(err, ErrQueueFull) {
		p.logger.Warn("job queue full, job left queued", "job_id", job.Id)
		return nil
	}
	return err
}

// GetJob returns the current state of a job.
func (p *Pipeline) GetJob(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	return p.jobs.GetJob(ctx, jobID)
}

// Retry requests a new job for a failed document. The new job supersedes
// the failed one. Of several concurrent retries of the same failure, only
// one is accepted; the others get ErrJobAlreadyActive.
func (p *Pipeline) Retry(ctx context.Context, documentID core.ID) (*core.IngestionJob, error) {
	doc, err := p.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := storage.CheckSupersede(doc, doc.JobId); err != nil {
		return nil, err
	}
	// The job fails before its document does, so the job decides.
	if doc.Status != core.DocumentFailed {
		previous, err := p.jobs.GetJob(ctx, doc.JobId)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if previous == nil || previous.State != core.JobFailed {
			return nil, fmt.Errorf("%w: document %d is %s", core.ErrJobAlreadyActive, doc.Id, doc.Status)
		}
	}

	job := &core.IngestionJob{
		Id:         uuid.NewString(),
		DocumentId: doc.Id,
		Collection: doc.Collection,
		State:      core.JobQueued,
		Supersedes: doc.JobId,
	}
	if err := p.jobs.AddJob(ctx, job); err != nil {
		return nil, err
	}
	if _, err := p.documents.SupersedeJob(ctx, doc.Id, job.Supersedes, job.Id); err != nil {
		// Another retry won. The unused job must never run.
		if failErr := p.fail(ctx, job, core.JobQueued, err); failErr != nil {
			p.logger.Error("could not discard retry job", "job_id", job.Id, "error", failErr)
		}
		return nil, err
	}

	p.logger.Info("document retry queued", "document_id", doc.Id, "job_id", job.Id, "supersedes", job.Supersedes)
	return job, p.schedule(job)
}

// Cancel stops a job. A queued job fails immediately; a running job has
// its context canceled and fails at its next step. Either way the job and
// its document end failed with kind Canceled.
func (p *Pipeline) Cancel(ctx context.Context, jobID string) error {
	p.mu.Lock()
	cancel, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		cancel(core.ErrJobCanceled)
		return nil
	}

	job, err := p.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", core.ErrJobAlreadyTerminal, job.Id, job.State)
	}
	// Not running here: either still queued, or left running by another process.
	err = p.fail(ctx, job, job.State, core.ErrJobCanceled)
	if errors.Is(err, core.ErrJobAlreadyActive) {
		// A worker started it in the meantime.
		p.mu.Lock()
		cancel, ok = p.running[jobID]
		p.mu.Unlock()
		if ok {
			cancel(core.ErrJobCanceled)
			return nil
		}
	}
	return err
}

// Recover restores in-flight work after a restart. Jobs left running are
// failed with kind Interrupted so they can be retried; queued jobs are
// scheduled again.
func (p *Pipeline) Recover(ctx context.Context) error {
	running, err := p.jobs.ListJobs(ctx, core.JobRunning)
	if err != nil {
		return err
	}
	for _, job := range running {
		p.mu.Lock()
		_, local := p.running[job.Id]
		p.mu.Unlock()
		if local {
			continue
		}
		if err := p.fail(ctx, job, core.JobRunning, core.ErrJobInterrupted); err != nil {
			p.logger.Warn("could not fail interrupted job", "job_id", job.Id, "error", err)
		}
	}

	queued, err := p.jobs.ListJobs(ctx, core.JobQueued)
	if err != nil {
		return err
	}
	for _, job := range queued {
		if err := p.enqueue(job.Id); err != nil {
			return err
		}
	}
	p.logger.Info("recovered ingestion jobs", "interrupted", len(running), "requeued", len(queued))
	return nil
}

// Close stops accepting jobs and waits up to the shutdown timeout for
// running jobs. Jobs still running afterwards are canceled and end failed
// with kind Interrupted; queued jobs stay queued for the next Recover.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	var err error
	if !p.waitInflight(p.shutdownTimeout) {
		p.logger.Warn("ingestion jobs still running at shutdown, interrupting", "timeout", p.shutdownTimeout)
		p.cancel(core.ErrJobInterrupted)
		if !p.waitInflight(p.shutdownTimeout) {
			err = ErrShutdownTimeout
		}
	}
	p.cancel(nil)
	// Release wakes a dispatcher blocked in Submit.
	p.pool.Release()
	p.dispatched.Wait()
	return err
}

// waitInflight waits for submitted jobs to return.
func (p *Pipeline) waitInflight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
