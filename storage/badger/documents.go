package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

func newDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	idSeq, err := backend.GetSequence(documentIDSeq)
	if err != nil {
		return nil, err
	}
	return &DocumentRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// NewDocumentRepository creates a document repository on backend.
func NewDocumentRepository(backend *Backend) (storage.DocumentRepository, error) {
	return newDocumentRepository(backend)
}

// Close releases the ID sequence.
func (r *DocumentRepository) Close() error {
	return r.idSeq.Release()
}

// AddDocument stores a new document, rejecting duplicate content.
func (r *DocumentRepository) AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if doc.Checksum == "" {
		content := doc.Content
		if doc.SourceType == core.SourceTypeURL && content == "" {
			content = doc.Source
		}
		doc.Checksum = core.ChecksumFromContent(content)
	}

	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		sumKey := makeDocumentSumKey(doc.Collection, doc.Checksum)
		existing, err := get(tx, sumKey)
		if err != nil {
			return err
		}
		if existing != nil {
			existingID, err := storage.UnmarshalID(existing)
			if err != nil {
				return err
			}
			return &core.DuplicateDocumentError{Collection: doc.Collection, ExistingId: existingID}
		}

		id, err := nextID(r.idSeq)
		if err != nil {
			return err
		}
		doc.Id = core.ID(id)
		if doc.Status == "" {
			doc.Status = core.DocumentPending
		}
		doc.InsertedAt = time.Now().UTC()
		doc.UpdatedAt = doc.InsertedAt

		if err := putDocument(tx, doc); err != nil {
			return err
		}
		if err := tx.Set(sumKey, storage.MarshalID(doc.Id)); err != nil {
			return err
		}
		return tx.Set(makeDocumentCollectionKey(doc.Collection, doc.Id), storage.MarshalID(doc.Id))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, id)
		return err
	})
	return doc, err
}

// UpdateDocument replaces a stored document.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		if _, err := readDocument(tx, doc.Id); err != nil {
			return err
		}
		doc.UpdatedAt = time.Now().UTC()
		return putDocument(tx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FailDocument marks the document failed unless another job owns it.
func (r *DocumentRepository) FailDocument(ctx context.Context, id core.ID, jobID, message string) (bool, error) {
	changed := false
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		changed = false
		stored, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if stored.JobId != jobID || stored.Status == core.DocumentReady {
			return nil
		}
		stored.Status = core.DocumentFailed
		stored.Error = message
		stored.UpdatedAt = time.Now().UTC()
		changed = true
		return putDocument(tx, stored)
	})
	return changed, err
}

// SupersedeJob moves a document from its failed job previousJobID to newJobID.
func (r *DocumentRepository) SupersedeJob(ctx context.Context, id core.ID, previousJobID, newJobID string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		stored, err := readDocument(tx, id)
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
		doc = stored
		return putDocument(tx, stored)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns every document in a collection ordered by ID.
func (r *DocumentRepository) ListDocuments(ctx context.Context, collection string) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		return scan(tx, makeDocumentCollectionPrefix(collection), func(key, _ []byte) error {
			doc, err := readDocument(tx, idSuffix(key))
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

// GetCollection returns the statistics of a collection.
func (r *DocumentRepository) GetCollection(ctx context.Context, name string) (*core.Collection, error) {
	var col *core.Collection
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		col, err = readCollection(tx, name)
		if err != nil {
			return err
		}
		if col == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return col, err
}

// Helper functions shared by the repositories

// readDocument reads a document, returning ErrNotFound if it is missing.
func readDocument(tx *badger.Txn, id core.ID) (*core.Document, error) {
	val, err := get(tx, makeDocumentKey(id))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, storage.ErrNotFound
	}
	return storage.UnmarshalDocument(val)
}

func putDocument(tx *badger.Txn, doc *core.Document) error {
	value, err := storage.MarshalDocument(doc)
	if err != nil {
		return err
	}
	return tx.Set(makeDocumentKey(doc.Id), value)
}

// readCollection reads collection statistics, returning nil if none exist.
func readCollection(tx *badger.Txn, name string) (*core.Collection, error) {
	val, err := get(tx, makeCollectionKey(name))
	if err != nil || val == nil {
		return nil, err
	}
	return storage.UnmarshalCollection(val)
}

func putCollection(tx *badger.Txn, col *core.Collection) error {
	value, err := storage.MarshalCollection(col)
	if err != nil {
		return err
	}
	return tx.Set(makeCollectionKey(col.Name), value)
}
