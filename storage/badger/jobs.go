package badger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

// JobRepository implements storage.JobRepository for BadgerDB.
// Badger's serializable transactions make TransitionJob a true
// compare-and-set: two writers racing on one job conflict and the loser
// re-reads the state the winner wrote.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

func newJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// NewJobRepository creates a job repository on backend.
func NewJobRepository(backend *Backend) storage.JobRepository {
	return newJobRepository(backend)
}

// Close is a no-op; jobs use UUIDs rather than a sequence.
func (r *JobRepository) Close() error {
	return nil
}

// AddJob stores a new job.
func (r *JobRepository) AddJob(ctx context.Context, job *core.IngestionJob) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		existing, err := get(tx, makeJobKey(job.Id))
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.Id)
		}
		now := time.Now().UTC()
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		return putJob(tx, job)
	})
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	var job *core.IngestionJob
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, id)
		return err
	})
	return job, err
}

// UpdateJob writes progress fields. The stored state always wins so a
// progress write can never undo a transition.
func (r *JobRepository) UpdateJob(ctx context.Context, job *core.IngestionJob) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		stored, err := readJob(tx, job.Id)
		if err != nil {
			return err
		}
		if stored.State.Terminal() {
			return nil
		}
		stored.Progress = job.Progress
		stored.Attempts = job.Attempts
		stored.UpdatedAt = time.Now().UTC()
		return putJob(tx, stored)
	})
}

// TransitionJob moves a job from one state to another.
func (r *JobRepository) TransitionJob(ctx context.Context, id string, from, to core.JobState, mutate func(*core.IngestionJob)) (*core.IngestionJob, error) {
	var result *core.IngestionJob
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		job, err := readJob(tx, id)
		if err != nil {
			return err
		}
		if job.State != from {
			return stateConflict(job, from)
		}

		now := time.Now().UTC()
		job.State = to
		job.UpdatedAt = now
		switch to {
		case core.JobRunning:
			job.StartedAt = now
		case core.JobCompleted, core.JobFailed:
			job.CompletedAt = now
		}
		if mutate != nil {
			mutate(job)
		}
		result = job
		return putJob(tx, job)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListJobs returns every job in state ordered by creation time.
func (r *JobRepository) ListJobs(ctx context.Context, state core.JobState) ([]*core.IngestionJob, error) {
	var jobs []*core.IngestionJob
	err := r.backend.View(func(tx *badger.Txn) error {
		return scan(tx, makeJobPrefix(), func(_, val []byte) error {
			job, err := storage.UnmarshalJob(val)
			if err != nil {
				return err
			}
			if job.State == state {
				jobs = append(jobs, job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(jobs, func(a, b *core.IngestionJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}

// stateConflict explains why a job could not leave the expected state.
func stateConflict(job *core.IngestionJob, expected core.JobState) error {
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", core.ErrJobAlreadyTerminal, job.Id, job.State)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", core.ErrJobAlreadyActive, job.Id, job.State, expected)
}

// readJob reads a job, returning ErrNotFound if it is missing.
func readJob(tx *badger.Txn, id string) (*core.IngestionJob, error) {
	val, err := get(tx, makeJobKey(id))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, fmt.Errorf("%w: job %s", storage.ErrNotFound, id)
	}
	return storage.UnmarshalJob(val)
}

func putJob(tx *badger.Txn, job *core.IngestionJob) error {
	value, err := storage.MarshalJob(job)
	if err != nil {
		return err
	}
	return tx.Set(makeJobKey(job.Id), value)
}
