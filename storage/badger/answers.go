package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

// AnswerRepository implements storage.AnswerRepository for BadgerDB.
type AnswerRepository struct {
	backend     *Backend
	idSeq       *badger.Sequence
	feedbackSeq *badger.Sequence
}

var _ storage.AnswerRepository = (*AnswerRepository)(nil)

func newAnswerRepository(backend *Backend) (*AnswerRepository, error) {
	idSeq, err := backend.GetSequence(answerIDSeq)
	if err != nil {
		return nil, err
	}
	feedbackSeq, err := backend.GetSequence(feedbackIDSeq)
	if err != nil {
		idSeq.Release()
		return nil, err
	}
	return &AnswerRepository{
		backend:     backend,
		idSeq:       idSeq,
		feedbackSeq: feedbackSeq,
	}, nil
}

// NewAnswerRepository creates an answer log on backend.
func NewAnswerRepository(backend *Backend) (storage.AnswerRepository, error) {
	return newAnswerRepository(backend)
}

// Close releases the ID sequences.
func (r *AnswerRepository) Close() error {
	err := r.idSeq.Release()
	if ferr := r.feedbackSeq.Release(); err == nil {
		err = ferr
	}
	return err
}

// AddAnswer logs an answer.
func (r *AnswerRepository) AddAnswer(ctx context.Context, answer *core.Answer) (*core.Answer, error) {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		id, err := nextID(r.idSeq)
		if err != nil {
			return err
		}
		answer.Id = core.ID(id)
		if answer.CreatedAt.IsZero() {
			answer.CreatedAt = time.Now().UTC()
		}
		value, err := storage.MarshalAnswer(answer)
		if err != nil {
			return err
		}
		return tx.Set(makeAnswerKey(answer.Id), value)
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// GetAnswer retrieves a logged answer.
func (r *AnswerRepository) GetAnswer(ctx context.Context, id core.ID) (*core.Answer, error) {
	var answer *core.Answer
	err := r.backend.View(func(tx *badger.Txn) error {
		val, err := get(tx, makeAnswerKey(id))
		if err != nil {
			return err
		}
		if val == nil {
			return fmt.Errorf("%w: answer %d", storage.ErrNotFound, id)
		}
		answer, err = storage.UnmarshalAnswer(val)
		return err
	})
	return answer, err
}

// AddFeedback stores feedback next to the answer it rates.
func (r *AnswerRepository) AddFeedback(ctx context.Context, feedback *core.Feedback) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		answer, err := get(tx, makeAnswerKey(feedback.AnswerId))
		if err != nil {
			return err
		}
		if answer == nil {
			return fmt.Errorf("%w: answer %d", storage.ErrNotFound, feedback.AnswerId)
		}
		seq, err := nextID(r.feedbackSeq)
		if err != nil {
			return err
		}
		if feedback.CreatedAt.IsZero() {
			feedback.CreatedAt = time.Now().UTC()
		}
		value, err := storage.MarshalFeedback(feedback)
		if err != nil {
			return err
		}
		return tx.Set(makeFeedbackKey(feedback.AnswerId, seq), value)
	})
}

// GetFeedback returns all feedback on an answer, oldest first.
func (r *AnswerRepository) GetFeedback(ctx context.Context, answerID core.ID) ([]*core.Feedback, error) {
	var result []*core.Feedback
	err := r.backend.View(func(tx *badger.Txn) error {
		return scan(tx, makeFeedbackPrefix(answerID), func(_, val []byte) error {
			fb, err := storage.UnmarshalFeedback(val)
			if err != nil {
				return err
			}
			result = append(result, fb)
			return nil
		})
	})
	return result, err
}
