package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

// JobRepository implements storage.JobRepository on Postgres.
// TransitionJob locks the job row, so concurrent starts serialize and the
// losers observe the winner's state.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

func newJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// Close is a no-op; the pool belongs to the backend.
func (r *JobRepository) Close() error {
	return nil
}

const jobColumns = `id, document_id, collection, state, progress, attempts, error, error_kind, supersedes,
	created_at, started_at, completed_at, updated_at`

// AddJob inserts a new job.
func (r *JobRepository) AddJob(ctx context.Context, job *core.IngestionJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	_, err := r.backend.pool.Exec(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, jobArgs(job)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.Id)
	}
	return err
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	job, err := readJob(ctx, r.backend.pool, id, false)
	if err != nil {
		return nil, notFound(err, "job "+id)
	}
	return job, nil
}

// UpdateJob writes progress fields of a job that is not terminal.
func (r *JobRepository) UpdateJob(ctx context.Context, job *core.IngestionJob) error {
	tag, err := r.backend.pool.Exec(ctx, `UPDATE jobs SET progress = $2, attempts = $3, updated_at = $4
		WHERE id = $1 AND state IN ($5, $6)`,
		job.Id, job.Progress, job.Attempts, time.Now().UTC(), string(core.JobQueued), string(core.JobRunning))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either missing or terminal; only the former is an error.
		_, err := r.GetJob(ctx, job.Id)
		return err
	}
	return nil
}

// TransitionJob moves a job from one state to another.
func (r *JobRepository) TransitionJob(ctx context.Context, id string, from, to core.JobState, mutate func(*core.IngestionJob)) (*core.IngestionJob, error) {
	var result *core.IngestionJob
	err := r.backend.WithTx(ctx, func(tx pgx.Tx) error {
		job, err := readJob(ctx, tx, id, true)
		if err != nil {
			return notFound(err, "job "+id)
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
		_, err = tx.Exec(ctx, `UPDATE jobs SET document_id = $2, collection = $3, state = $4, progress = $5,
				attempts = $6, error = $7, error_kind = $8, supersedes = $9, created_at = $10,
				started_at = $11, completed_at = $12, updated_at = $13
			WHERE id = $1`, jobArgs(job)...)
		result = job
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListJobs returns every job in state ordered by creation time.
func (r *JobRepository) ListJobs(ctx context.Context, state core.JobState) ([]*core.IngestionJob, error) {
	rows, err := r.backend.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = $1 ORDER BY created_at, id`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*core.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func jobArgs(job *core.IngestionJob) []any {
	return []any{
		job.Id, int64(job.DocumentId), job.Collection, string(job.State), job.Progress, job.Attempts,
		job.Error, string(job.ErrorKind), job.Supersedes,
		job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt,
	}
}

func readJob(ctx context.Context, q querier, id string, forUpdate bool) (*core.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanJob(q.QueryRow(ctx, query, id))
}

func scanJob(row pgx.Row) (*core.IngestionJob, error) {
	var job core.IngestionJob
	var docID int64
	var state, kind string
	err := row.Scan(&job.Id, &docID, &job.Collection, &state, &job.Progress, &job.Attempts,
		&job.Error, &kind, &job.Supersedes, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.DocumentId = core.ID(docID)
	job.State = core.JobState(state)
	job.ErrorKind = core.ErrorKind(kind)
	return &job, nil
}

// stateConflict explains why a job could not leave the expected state.
func stateConflict(job *core.IngestionJob, expected core.JobState) error {
	if job.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", core.ErrJobAlreadyTerminal, job.Id, job.State)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", core.ErrJobAlreadyActive, job.Id, job.State, expected)
}
