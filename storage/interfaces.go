package storage

import (
	"context"
	"errors"

	"github.com/poiesic/docusense/core"
)

// Repository provides operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository. It does not close
	// the backend the repository was built on.
	Close() error
}

// DocumentRepository manages documents and per-collection statistics.
type DocumentRepository interface {
	Repository

	// AddDocument stores a new pending document and assigns its ID.
	// Sets Checksum from Content when empty and InsertedAt/UpdatedAt.
	// Returns a *core.DuplicateDocumentError when a document with the
	// same checksum already exists in the collection.
	AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// UpdateDocument replaces a stored document and bumps UpdatedAt.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// SupersedeJob points a document at newJobID and resets it to pending,
	// but only while the document still belongs to previousJobID and is not
	// ready. The caller checks that previousJobID has failed. Check and
	// write happen in one transaction, so of several concurrent calls with
	// the same previousJobID at most one succeeds. Losers get an error
	// wrapping core.ErrJobAlreadyActive, or core.ErrJobAlreadyTerminal when
	// the document is ready.
	SupersedeJob(ctx context.Context, id core.ID, previousJobID, newJobID string) (*core.Document, error)

	// FailDocument marks a document failed with message if it still belongs
	// to jobID and is not ready. It reports whether the document changed.
	// Returns ErrNotFound if the document doesn't exist.
	FailDocument(ctx context.Context, id core.ID, jobID, message string) (bool, error)

	// ListDocuments returns every document in a collection ordered by ID.
	ListDocuments(ctx context.Context, collection string) ([]*core.Document, error)

	// GetCollection returns the statistics of a collection.
	// Returns ErrNotFound if nothing was ever committed to it.
	GetCollection(ctx context.Context, name string) (*core.Collection, error)
}

// ChunkRepository manages chunks together with their vector and keyword
// index entries. Chunks only exist for documents in the ready state.
type ChunkRepository interface {
	Repository

	// CommitDocument atomically writes the chunks of a document with their
	// vectors and keyword postings, updates collection statistics, marks the
	// document ready and moves the job from running to completed.
	//
	// Returns core.ErrDimensionMismatch if the vectors disagree with the
	// collection's pinned dimension, and core.ErrJobAlreadyTerminal if the
	// job is no longer running, no longer owns the document, or the document
	// is already ready.
	CommitDocument(ctx context.Context, doc *core.Document, jobID string, chunks []*core.Chunk) error

	// GetChunks retrieves chunks by ID, vectors included.
	// Returns only the chunks that exist.
	GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error)

	// GetDocumentChunks returns a document's chunks ordered by sequence.
	GetDocumentChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error)

	// FindSimilar returns the limit chunks of a collection with the highest
	// cosine similarity to vector, highest first.
	FindSimilar(ctx context.Context, collection string, vector []float32, limit int) ([]core.ScoredChunk, error)

	// FindByKeywords returns the limit chunks of a collection with the highest
	// BM25 score for the given terms, highest first.
	FindByKeywords(ctx context.Context, collection string, terms []string, limit int) ([]core.ScoredChunk, error)

	// UpdateChunkVectors replaces the vectors of one document's chunks in
	// a single transaction. Every vector must match the collection dimension.
	UpdateChunkVectors(ctx context.Context, documentID core.ID, vectors map[core.ID][]float32) error
}

// JobRepository is the job status store.
type JobRepository interface {
	Repository

	// AddJob stores a new job. Returns ErrDuplicateKey if the ID is taken.
	AddJob(ctx context.Context, job *core.IngestionJob) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.IngestionJob, error)

	// UpdateJob writes progress fields of a job without changing its state.
	// Returns ErrNotFound if the job doesn't exist.
	UpdateJob(ctx context.Context, job *core.IngestionJob) error

	// TransitionJob atomically moves a job from one state to another and
	// applies mutate to the stored record before writing it.
	//
	// If the job is not in state from, nothing is written and the error wraps
	// core.ErrJobAlreadyActive when the job is queued or running, or
	// core.ErrJobAlreadyTerminal when it is completed or failed.
	TransitionJob(ctx context.Context, id string, from, to core.JobState, mutate func(*core.IngestionJob)) (*core.IngestionJob, error)

	// ListJobs returns every job in the given state ordered by creation time.
	ListJobs(ctx context.Context, state core.JobState) ([]*core.IngestionJob, error)
}

// AnswerRepository logs answers and the feedback left on them.
type AnswerRepository interface {
	Repository

	// AddAnswer stores an answer and assigns its ID.
	AddAnswer(ctx context.Context, answer *core.Answer) (*core.Answer, error)

	// GetAnswer retrieves a logged answer.
	// Returns ErrNotFound if the answer doesn't exist.
	GetAnswer(ctx context.Context, id core.ID) (*core.Answer, error)

	// AddFeedback records feedback on a logged answer without touching it.
	// Returns ErrNotFound if the answer doesn't exist.
	AddFeedback(ctx context.Context, feedback *core.Feedback) error

	// GetFeedback returns all feedback left on an answer, oldest first.
	GetFeedback(ctx context.Context, answerID core.ID) ([]*core.Feedback, error)
}

// Repositories bundles one backend's repositories.
type Repositories struct {
	Documents DocumentRepository
	Chunks    ChunkRepository
	Jobs      JobRepository
	Answers   AnswerRepository

	closeBackend func() error
}

// NewRepositories bundles repositories built on a shared backend.
// closeBackend runs after every repository is closed.
func NewRepositories(docs DocumentRepository, chunks ChunkRepository, jobs JobRepository, answers AnswerRepository, closeBackend func() error) *Repositories {
	return &Repositories{
		Documents:    docs,
		Chunks:       chunks,
		Jobs:         jobs,
		Answers:      answers,
		closeBackend: closeBackend,
	}
}

// Close closes every repository, then the backend.
func (r *Repositories) Close() error {
	var errs []error
	for _, repo := range []Repository{r.Documents, r.Chunks, r.Jobs, r.Answers} {
		if repo == nil {
			continue
		}
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.closeBackend != nil {
		if err := r.closeBackend(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
