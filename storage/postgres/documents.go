package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

// DocumentRepository implements storage.DocumentRepository on Postgres.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

func newDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// Close is a no-op; the pool belongs to the backend.
func (r *DocumentRepository) Close() error {
	return nil
}

const documentColumns = `id, collection, title, source_type, source, content, checksum,
	status, error, chunk_count, job_id, metadata, inserted_at, updated_at`

// AddDocument inserts a pending document unless its checksum is taken.
func (r *DocumentRepository) AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if doc.Checksum == "" {
		content := doc.Content
		if doc.SourceType == core.SourceTypeURL && content == "" {
			content = doc.Source
		}
		doc.Checksum = core.ChecksumFromContent(content)
	}
	if doc.Status == "" {
		doc.Status = core.DocumentPending
	}
	doc.InsertedAt = time.Now().UTC()
	doc.UpdatedAt = doc.InsertedAt

	var id int64
	err := r.backend.pool.QueryRow(ctx, `
		INSERT INTO documents (collection, title, source_type, source, content, checksum,
			status, error, chunk_count, job_id, metadata, inserted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (collection, checksum) DO NOTHING
		RETURNING id`,
		doc.Collection, doc.Title, string(doc.SourceType), doc.Source, doc.Content, doc.Checksum,
		string(doc.Status), doc.Error, doc.ChunkCount, doc.JobId, doc.Metadata, doc.InsertedAt, doc.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		var existing int64
		err = r.backend.pool.QueryRow(ctx,
			`SELECT id FROM documents WHERE collection = $1 AND checksum = $2`,
			doc.Collection, doc.Checksum).Scan(&existing)
		if err != nil {
			return nil, err
		}
		return nil, &core.DuplicateDocumentError{Collection: doc.Collection, ExistingId: core.ID(existing)}
	}
	if err != nil {
		return nil, err
	}
	doc.Id = core.ID(id)
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	row := r.backend.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, int64(id))
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("document %d", id))
	}
	return doc, nil
}

// UpdateDocument replaces the mutable fields of a document.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	doc.UpdatedAt = time.Now().UTC()
	tag, err := r.backend.pool.Exec(ctx, `
		UPDATE documents SET title = $2, source = $3, content = $4, status = $5, error = $6,
			chunk_count = $7, job_id = $8, metadata = $9, updated_at = $10
		WHERE id = $1`,
		int64(doc.Id), doc.Title, doc.Source, doc.Content, string(doc.Status), doc.Error,
		doc.ChunkCount, doc.JobId, doc.Metadata, doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: document %d", storage.ErrNotFound, doc.Id)
	}
	return doc, nil
}

// FailDocument marks the document failed unless another job owns it.
func (r *DocumentRepository) FailDocument(ctx context.Context, id core.ID, jobID, message string) (bool, error) {
	tag, err := r.backend.pool.Exec(ctx, `
		UPDATE documents SET status = $3, error = $4, updated_at = $5
		WHERE id = $1 AND job_id = $2 AND status <> $6`,
		int64(id), jobID, string(core.DocumentFailed), message, time.Now().UTC(), string(core.DocumentReady))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetDocument(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SupersedeJob moves a document from its failed job previousJobID to newJobID.
// The row lock makes concurrent callers queue behind the first.
func (r *DocumentRepository) SupersedeJob(ctx context.Context, id core.ID, previousJobID, newJobID string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.WithTx(ctx, func(tx pgx.Tx) error {
		stored, err := readDocumentForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := storage.CheckSupersede(stored, previousJobID); err != nil {
			return err
		}
		stored.JobId = newJobID
		stored.Status = core.DocumentPending
		stored.Error = ""
		stored.UpdatedAt = time.Now().UTC()
		_, err = tx.Exec(ctx, `UPDATE documents SET job_id = $2, status = $3, error = '', updated_at = $4
			WHERE id = $1`, int64(id), newJobID, string(stored.Status), stored.UpdatedAt)
		doc = stored
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func readDocumentForUpdate(ctx context.Context, tx pgx.Tx, id core.ID) (*core.Document, error) {
	row := tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, int64(id))
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("document %d", id))
	}
	return doc, nil
}

// ListDocuments returns every document in a collection ordered by ID.
func (r *DocumentRepository) ListDocuments(ctx context.Context, collection string) ([]*core.Document, error) {
	rows, err := r.backend.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetCollection returns the statistics of a collection.
func (r *DocumentRepository) GetCollection(ctx context.Context, name string) (*core.Collection, error) {
	col, err := readCollection(ctx, r.backend.pool, name, false)
	if err != nil {
		return nil, notFound(err, "collection "+name)
	}
	return col, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readCollection(ctx context.Context, q querier, name string, forUpdate bool) (*core.Collection, error) {
	query := `SELECT name, dimension, ready_documents, chunk_count, token_total, created_at, updated_at
		FROM collections WHERE name = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var col core.Collection
	var tokens int64
	err := q.QueryRow(ctx, query, name).Scan(
		&col.Name, &col.Dimension, &col.ReadyDocuments, &col.ChunkCount, &tokens, &col.CreatedAt, &col.UpdatedAt)
	if err != nil {
		return nil, err
	}
	col.TokenTotal = int(tokens)
	return &col, nil
}

func scanDocument(row pgx.Row) (*core.Document, error) {
	var doc core.Document
	var id int64
	var sourceType, status string
	err := row.Scan(&id, &doc.Collection, &doc.Title, &sourceType, &doc.Source, &doc.Content, &doc.Checksum,
		&status, &doc.Error, &doc.ChunkCount, &doc.JobId, &doc.Metadata, &doc.InsertedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Id = core.ID(id)
	doc.SourceType = core.SourceType(sourceType)
	doc.Status = core.DocumentStatus(status)
	return &doc, nil
}
