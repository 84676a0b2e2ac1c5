package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/lexical"
	"github.com/poiesic/docusense/storage"
)

// ChunkRepository implements storage.ChunkRepository on Postgres. Vectors
// live in a pgvector column; keyword postings live in chunk_terms and are
// ranked with the same BM25 as the embedded backend.
type ChunkRepository struct {
	backend *Backend
	bm25    lexical.BM25
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

func newChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend, bm25: lexical.DefaultBM25}
}

// Close is a no-op; the pool belongs to the backend.
func (r *ChunkRepository) Close() error {
	return nil
}

// CommitDocument makes a document's chunks retrievable in one transaction.
// Row locks on the job, the document and the collection serialize
// concurrent commits.
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

	return r.backend.WithTx(ctx, func(tx pgx.Tx) error {
		job, err := readJob(ctx, tx, jobID, true)
		if err != nil {
			return notFound(err, "job "+jobID)
		}
		if job.State != core.JobRunning {
			return stateConflict(job, core.JobRunning)
		}
		stored, err := readDocumentForUpdate(ctx, tx, doc.Id)
		if err != nil {
			return err
		}
		if err := storage.CheckCommitOwner(stored, jobID); err != nil {
			return err
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `INSERT INTO collections (name, created_at, updated_at) VALUES ($1, $2, $2)
			ON CONFLICT (name) DO NOTHING`, doc.Collection, now)
		if err != nil {
			return err
		}
		col, err := readCollection(ctx, tx, doc.Collection, true)
		if err != nil {
			return err
		}
		if col.Dimension != 0 && col.Dimension != dim {
			return fmt.Errorf("%w: collection %q has dimension %d, got %d",
				core.ErrDimensionMismatch, col.Name, col.Dimension, dim)
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(`INSERT INTO chunks (document_id, collection, sequence, text, span_start, span_end,
					header, token_count, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
				int64(doc.Id), doc.Collection, c.Sequence, c.Text, c.Span.Start, c.Span.End,
				c.Header, c.TokenCount, pgvector.NewVector(c.Vector))
		}
		results := tx.SendBatch(ctx, batch)
		for _, c := range chunks {
			var id int64
			if err := results.QueryRow().Scan(&id); err != nil {
				results.Close()
				return err
			}
			c.Id = core.ID(id)
			c.DocumentId = doc.Id
			c.Collection = doc.Collection
		}
		if err := results.Close(); err != nil {
			return err
		}

		var rows [][]any
		tokens := 0
		for _, c := range chunks {
			length := c.TermCount()
			tokens += length
			for term, tf := range c.Terms {
				rows = append(rows, []any{doc.Collection, term, int64(c.Id), int64(doc.Id), c.Sequence, tf, length})
			}
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"chunk_terms"},
			[]string{"collection", "term", "chunk_id", "document_id", "sequence", "tf", "length"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE collections SET dimension = $2, ready_documents = ready_documents + 1,
				chunk_count = chunk_count + $3, token_total = token_total + $4, updated_at = $5
			WHERE name = $1`, doc.Collection, dim, len(chunks), tokens, now)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `UPDATE documents SET title = $2, status = $3, error = '', chunk_count = $4,
				job_id = $5, updated_at = $6 WHERE id = $1`,
			int64(doc.Id), doc.Title, string(core.DocumentReady), len(chunks), jobID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: document %d", storage.ErrNotFound, doc.Id)
		}
		doc.Status = core.DocumentReady
		doc.Error = ""
		doc.ChunkCount = len(chunks)
		doc.JobId = jobID
		doc.UpdatedAt = now

		_, err = tx.Exec(ctx, `UPDATE jobs SET state = $2, progress = 100, error = '', error_kind = '',
				completed_at = $3, updated_at = $3 WHERE id = $1`,
			jobID, string(core.JobCompleted), now)
		return err
	})
}

const chunkColumns = `id, document_id, collection, sequence, text, span_start, span_end, header, token_count, embedding`

// GetChunks retrieves chunks by ID with their vectors and terms.
func (r *ChunkRepository) GetChunks(ctx context.Context, ids ...core.ID) ([]*core.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	return r.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ANY($1) ORDER BY id`, keys)
}

// GetDocumentChunks returns a document's chunks ordered by sequence.
func (r *ChunkRepository) GetDocumentChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	return r.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY sequence`, int64(documentID))
}

func (r *ChunkRepository) queryChunks(ctx context.Context, query string, args ...any) ([]*core.Chunk, error) {
	rows, err := r.backend.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*core.Chunk
	byID := make(map[int64]*core.Chunk)
	for rows.Next() {
		var c core.Chunk
		var id, docID int64
		var vector pgvector.Vector
		err := rows.Scan(&id, &docID, &c.Collection, &c.Sequence, &c.Text, &c.Span.Start, &c.Span.End,
			&c.Header, &c.TokenCount, &vector)
		if err != nil {
			return nil, err
		}
		c.Id = core.ID(id)
		c.DocumentId = core.ID(docID)
		c.Vector = vector.Slice()
		c.Terms = make(map[string]int)
		chunks = append(chunks, &c)
		byID[id] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	keys := make([]int64, 0, len(byID))
	for id := range byID {
		keys = append(keys, id)
	}
	termRows, err := r.backend.pool.Query(ctx,
		`SELECT chunk_id, term, tf FROM chunk_terms WHERE chunk_id = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer termRows.Close()
	for termRows.Next() {
		var id int64
		var term string
		var tf int
		if err := termRows.Scan(&id, &term, &tf); err != nil {
			return nil, err
		}
		byID[id].Terms[term] = tf
	}
	return chunks, termRows.Err()
}

// FindSimilar orders the collection's chunks by pgvector cosine distance.
func (r *ChunkRepository) FindSimilar(ctx context.Context, collection string, vector []float32, limit int) ([]core.ScoredChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	col, err := readCollection(ctx, r.backend.pool, collection, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if col.Dimension != len(vector) {
		return nil, fmt.Errorf("%w: collection %q has dimension %d, query has %d",
			core.ErrDimensionMismatch, collection, col.Dimension, len(vector))
	}

	rows, err := r.backend.pool.Query(ctx, `
		SELECT id, document_id, sequence, 1 - (embedding <=> $2) AS similarity
		FROM chunks
		WHERE collection = $1
		ORDER BY embedding <=> $2, sequence, document_id, id
		LIMIT $3`,
		collection, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []core.ScoredChunk
	for rows.Next() {
		var id, docID int64
		var sc core.ScoredChunk
		if err := rows.Scan(&id, &docID, &sc.Sequence, &sc.Score); err != nil {
			return nil, err
		}
		sc.ChunkId = core.ID(id)
		sc.DocumentId = core.ID(docID)
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lexical.SortScored(results)
	return results, nil
}

// FindByKeywords loads the postings of terms and ranks them with BM25.
func (r *ChunkRepository) FindByKeywords(ctx context.Context, collection string, terms []string, limit int) ([]core.ScoredChunk, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	col, err := readCollection(ctx, r.backend.pool, collection, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if col.ChunkCount == 0 || len(terms) == 0 {
		return nil, nil
	}

	rows, err := r.backend.pool.Query(ctx, `
		SELECT term, chunk_id, document_id, sequence, tf, length
		FROM chunk_terms
		WHERE collection = $1 AND term = ANY($2)`,
		collection, terms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	postings := make(map[string][]lexical.Posting)
	for rows.Next() {
		var term string
		var chunkID, docID int64
		var p lexical.Posting
		if err := rows.Scan(&term, &chunkID, &docID, &p.Sequence, &p.TF, &p.Length); err != nil {
			return nil, err
		}
		p.ChunkId = core.ID(chunkID)
		p.DocumentId = core.ID(docID)
		postings[term] = append(postings[term], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.bm25.Rank(postings, col.ChunkCount, col.AverageChunkLength(), limit), nil
}

// UpdateChunkVectors swaps the vectors of one document's chunks.
func (r *ChunkRepository) UpdateChunkVectors(ctx context.Context, documentID core.ID, vectors map[core.ID][]float32) error {
	return r.backend.WithTx(ctx, func(tx pgx.Tx) error {
		var collection string
		err := tx.QueryRow(ctx, `SELECT collection FROM documents WHERE id = $1`, int64(documentID)).Scan(&collection)
		if err != nil {
			return notFound(err, fmt.Sprintf("document %d", documentID))
		}
		col, err := readCollection(ctx, tx, collection, false)
		if err != nil {
			return notFound(err, "collection "+collection)
		}

		for id, vector := range vectors {
			if len(vector) != col.Dimension {
				return fmt.Errorf("%w: collection %q has dimension %d, got %d",
					core.ErrDimensionMismatch, col.Name, col.Dimension, len(vector))
			}
			tag, err := tx.Exec(ctx, `UPDATE chunks SET embedding = $3 WHERE id = $1 AND document_id = $2`,
				int64(id), int64(documentID), pgvector.NewVector(vector))
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: chunk %d of document %d", storage.ErrNotFound, id, documentID)
			}
		}
		return nil
	})
}
