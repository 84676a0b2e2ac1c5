package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

// AnswerRepository implements storage.AnswerRepository on Postgres.
type AnswerRepository struct {
	backend *Backend
}

var _ storage.AnswerRepository = (*AnswerRepository)(nil)

func newAnswerRepository(backend *Backend) *AnswerRepository {
	return &AnswerRepository{backend: backend}
}

// Close is a no-op; the pool belongs to the backend.
func (r *AnswerRepository) Close() error {
	return nil
}

// AddAnswer logs an answer. Citations are stored as JSONB.
func (r *AnswerRepository) AddAnswer(ctx context.Context, answer *core.Answer) (*core.Answer, error) {
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = time.Now().UTC()
	}
	citations := answer.Citations
	if citations == nil {
		citations = []core.Citation{}
	}
	var id int64
	err := r.backend.pool.QueryRow(ctx, `
		INSERT INTO answers (collection, question, text, citations, confidence, latency_ns, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		answer.Collection, answer.Question, answer.Text, citations, answer.Confidence,
		answer.Latency.Nanoseconds(), answer.Model, answer.CreatedAt,
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	answer.Id = core.ID(id)
	return answer, nil
}

// GetAnswer retrieves a logged answer.
func (r *AnswerRepository) GetAnswer(ctx context.Context, id core.ID) (*core.Answer, error) {
	var answer core.Answer
	var latency int64
	err := r.backend.pool.QueryRow(ctx, `
		SELECT collection, question, text, citations, confidence, latency_ns, model, created_at
		FROM answers WHERE id = $1`, int64(id),
	).Scan(&answer.Collection, &answer.Question, &answer.Text, &answer.Citations, &answer.Confidence,
		&latency, &answer.Model, &answer.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("answer %d", id))
	}
	answer.Id = id
	answer.Latency = time.Duration(latency)
	return &answer, nil
}

// AddFeedback records feedback on a logged answer.
func (r *AnswerRepository) AddFeedback(ctx context.Context, feedback *core.Feedback) error {
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	tag, err := r.backend.pool.Exec(ctx, `
		INSERT INTO feedback (answer_id, rating, note, created_at)
		SELECT id, $2, $3, $4 FROM answers WHERE id = $1`,
		int64(feedback.AnswerId), feedback.Rating, feedback.Note, feedback.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: answer %d", storage.ErrNotFound, feedback.AnswerId)
	}
	return nil
}

// GetFeedback returns all feedback on an answer, oldest first.
func (r *AnswerRepository) GetFeedback(ctx context.Context, answerID core.ID) ([]*core.Feedback, error) {
	rows, err := r.backend.pool.Query(ctx,
		`SELECT rating, note, created_at FROM feedback WHERE answer_id = $1 ORDER BY id`, int64(answerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*core.Feedback
	for rows.Next() {
		fb := &core.Feedback{AnswerId: answerID}
		if err := rows.Scan(&fb.Rating, &fb.Note, &fb.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, fb)
	}
	return result, rows.Err()
}
