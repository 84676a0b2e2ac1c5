package badger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/lexical"
	"github.com/poiesic/docusense/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// It owns the vector and keyword indices of every collection.
type ChunkRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
	bm25    lexical.BM25
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

func newChunkRepository(backend *Backend) (*ChunkRepository, error) {
	idSeq, err := backend.GetSequence(chunkIDSeq)
	if err != nil {
		return nil, err
	}
	return &ChunkRepository{
		backend: backend,
		idSeq:   idSeq,
		bm25:    lexical.DefaultBM25,
	}, nil
}

// NewChunkRepository creates a chunk repository on backend.
func NewChunkRepository(backend *Backend) (storage.ChunkRepository, error) {
	return newChunkRepository(backend)
}

// Close releases the ID sequence.
func (r *ChunkRepository) Close() error {
	return r.idSeq.Release()
}

// CommitDocument makes a document's chunks retrievable in one transaction.
func (r *ChunkRepository) CommitDocument(ctx context.Context, doc *core.Document, jobID string, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: document %d has no chunks", core.ErrEmptyDocument, doc.Id)
	}
	dim := len(chunks[0].Vector)
	for _, c := range chunks {
		if len(c.Vector) == 0 || len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %d of document %d has %d dimensions, expected %d",
				core.ErrDimensionMismatch, c.Sequence, doc.Id, len(c.Vector), dim)
		}
	}

	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		job, err := readJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.State != core.JobRunning {
			return stateConflict(job, core.JobRunning)
		}

		now := time.Now().UTC()
		col, err := readCollection(tx, doc.Collection)
		if err != nil {
			return err
		}
		if col == nil {
			col = &core.Collection{Name: doc.Collection, CreatedAt: now}
		}
		if col.Dimension == 0 {
			col.Dimension = dim
		} else if col.Dimension != dim {
			return fmt.Errorf("%w: collection %q has dimension %d, got %d",
				core.ErrDimensionMismatch, col.Name, col.Dimension, dim)
		}

		stored, err := readDocument(tx, doc.Id)
		if err != nil {
			return err
		}
		if err := storage.CheckCommitOwner(stored, jobID); err != nil {
			return err
		}

		tokens := 0
		for _, c := range chunks {
			if c.Id == 0 {
				id, err := nextID(r.idSeq)
				if err != nil {
					return err
				}
				c.Id = core.ID(id)
			}
			c.DocumentId = doc.Id
			c.Collection = doc.Collection
			if err := r.putChunk(tx, c); err != nil {
				return err
			}
			tokens += c.TermCount()
		}

		col.ReadyDocuments++
		col.ChunkCount += len(chunks)
		col.TokenTotal += tokens
		col.UpdatedAt = now
		if err := putCollection(tx, col); err != nil {
			return err
		}

		stored.Title = doc.Title
		stored.Status = core.DocumentReady
		stored.Error = ""
		stored.ChunkCount = len(chunks)
		stored.JobId = jobID
		stored.UpdatedAt = now
		if err := putDocument(tx, stored); err != nil {
			return err
		}
		*doc = *stored

		job.State = core.JobCompleted
		job.Progress = 100
		job.Error = ""
		job.ErrorKind = core.KindNone
		job.CompletedAt = now
		job.UpdatedAt = now
		return putJob(tx, job)
	})
}

// putChunk writes the chunk record, its ordering index, its vector and its postings.
func (r *ChunkRepository) putChunk(tx *badger.Txn, c *core.Chunk) error {
	value, err := storage.MarshalChunk(c)
	if err != nil {
		return err
	}
	if err := tx.Set(makeChunkKey(c.Id), value); err != nil {
		return err
	}
	if err := tx.Set(makeChunkDocumentKey(c.DocumentId, c.Sequence), storage.MarshalID(c.Id)); err != nil {
		return err
	}
	if err := tx.Set(makeVectorKey(c.Collection, c.Id), storage.MarshalEmbedding(c.DocumentId, c.Sequence, c.Vector)); err != nil {
		return err
	}
	length := c.TermCount()
	for term, tf := range c.Terms {
		posting := storage.MarshalPosting(c.DocumentId, c.Sequence, tf, length)
		if err := tx.Set(makePostingKey(c.Collection, term, c.Id), posting); err != nil {
			return err
		}
	}
	return nil
}

// GetChunks retrieves chunks by ID with their vectors.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	var result []*core.Chunk
	err := r.backend.View(func(tx *badger.Txn) error {
		for _, id := range ids {
			chunk, err := readChunk(tx, id)
			if err != nil {
				return err
			}
			if chunk != nil {
				result = append(result, chunk)
			}
		}
		return nil
	})
	return result, err
}

// GetDocumentChunks returns a document's chunks ordered by sequence.
func (r *ChunkRepository) GetDocumentChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	var result []*core.Chunk
	err := r.backend.View(func(tx *badger.Txn) error {
		return scan(tx, makeChunkDocumentPrefix(documentID), func(_, val []byte) error {
			id, err := storage.UnmarshalID(val)
			if err != nil {
				return err
			}
			chunk, err := readChunk(tx, id)
			if err != nil {
				return err
			}
			if chunk != nil {
				result = append(result, chunk)
			}
			return nil
		})
	})
	return result, err
}

// FindSimilar scans the collection's vectors and keeps the best limit by cosine.
func (r *ChunkRepository) FindSimilar(ctx context.Context, collection string, vector []float32, limit int) ([]core.ScoredChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []core.ScoredChunk
	err := r.backend.View(func(tx *badger.Txn) error {
		col, err := readCollection(tx, collection)
		if err != nil || col == nil {
			return err
		}
		if col.Dimension != len(vector) {
			return fmt.Errorf("%w: collection %q has dimension %d, query has %d",
				core.ErrDimensionMismatch, collection, col.Dimension, len(vector))
		}

		n := 0
		return scan(tx, makeVectorPrefix(collection), func(key, val []byte) error {
			// Check for cancellation periodically on large collections
			if n++; n%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			docID, seq, stored, err := storage.UnmarshalEmbedding(val)
			if err != nil {
				return err
			}
			results = append(results, core.ScoredChunk{
				ChunkId:    idSuffix(key),
				DocumentId: docID,
				Sequence:   seq,
				Score:      cosine(vector, stored),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lexical.SortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FindByKeywords ranks the collection's chunks with BM25 over the postings of terms.
func (r *ChunkRepository) FindByKeywords(ctx context.Context, collection string, terms []string, limit int) ([]core.ScoredChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []core.ScoredChunk
	err := r.backend.View(func(tx *badger.Txn) error {
		col, err := readCollection(tx, collection)
		if err != nil || col == nil || col.ChunkCount == 0 {
			return err
		}

		postings := make(map[string][]lexical.Posting)
		for _, term := range slices.Compact(slices.Sorted(slices.Values(terms))) {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := scan(tx, makePostingPrefix(collection, term), func(key, val []byte) error {
				docID, seq, tf, length, err := storage.UnmarshalPosting(val)
				if err != nil {
					return err
				}
				postings[term] = append(postings[term], lexical.Posting{
					ChunkId:    idSuffix(key),
					DocumentId: docID,
					Sequence:   seq,
					TF:         tf,
					Length:     length,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		results = r.bm25.Rank(postings, col.ChunkCount, col.AverageChunkLength(), limit)
		return nil
	})
	return results, err
}

// UpdateChunkVectors swaps the vectors of one document's chunks.
func (r *ChunkRepository) UpdateChunkVectors(ctx context.Context, documentID core.ID, vectors map[core.ID][]float32) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		doc, err := readDocument(tx, documentID)
		if err != nil {
			return err
		}
		col, err := readCollection(tx, doc.Collection)
		if err != nil {
			return err
		}
		if col == nil {
			return storage.ErrNotFound
		}

		for id, vector := range vectors {
			if len(vector) != col.Dimension {
				return fmt.Errorf("%w: collection %q has dimension %d, got %d",
					core.ErrDimensionMismatch, col.Name, col.Dimension, len(vector))
			}
			chunk, err := readChunkRecord(tx, id)
			if err != nil {
				return err
			}
			if chunk == nil || chunk.DocumentId != documentID {
				return fmt.Errorf("%w: chunk %d of document %d", storage.ErrNotFound, id, documentID)
			}
			value := storage.MarshalEmbedding(chunk.DocumentId, chunk.Sequence, vector)
			if err := tx.Set(makeVectorKey(chunk.Collection, id), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// readChunkRecord reads a chunk without its vector, returning nil if missing.
func readChunkRecord(tx *badger.Txn, id core.ID) (*core.Chunk, error) {
	val, err := get(tx, makeChunkKey(id))
	if err != nil || val == nil {
		return nil, err
	}
	return storage.UnmarshalChunk(val)
}

// readChunk reads a chunk together with its vector.
func readChunk(tx *badger.Txn, id core.ID) (*core.Chunk, error) {
	chunk, err := readChunkRecord(tx, id)
	if err != nil || chunk == nil {
		return chunk, err
	}
	val, err := get(tx, makeVectorKey(chunk.Collection, id))
	if err != nil {
		return nil, err
	}
	if val != nil {
		_, _, chunk.Vector, err = storage.UnmarshalEmbedding(val)
		if err != nil {
			return nil, err
		}
	}
	return chunk, nil
}
