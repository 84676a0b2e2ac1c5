// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package reembed

import (
	"context"

	"github.com/poiesic/docusense/core"
	"github.com/poiesic/docusense/storage"
)

// DocumentIterator walks the ready documents of a collection with their chunks.
type DocumentIterator struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
}

// NewDocumentIterator creates a new document iterator.
func NewDocumentIterator(documents storage.DocumentRepository, chunks storage.ChunkRepository) *DocumentIterator {
	return &DocumentIterator{documents: documents, chunks: chunks}
}

// Count returns the number of ready documents and their chunks in collection.
func (it *DocumentIterator) Count(ctx context.Context, collection string) (docs, chunks int, err error) {
	list, err := it.documents.ListDocuments(ctx, collection)
	if err != nil {
		return 0, 0, err
	}
	for _, doc := range list {
		if doc.Status == core.DocumentReady {
			docs++
			chunks += doc.ChunkCount
		}
	}
	return docs, chunks, nil
}

// ForEach calls fn for every ready document of collection, in ID order,
// with the document's chunks in sequence order.
// Iteration stops on first error from fn.
// Context cancellation is checked between documents.
func (it *DocumentIterator) ForEach(ctx context.Context, collection string, fn func(*core.Document, []*core.Chunk) error) error {
	// Check context before starting
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, err := it.documents.ListDocuments(ctx, collection)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		// Pending, processing and failed documents have no chunks
		if doc.Status != core.DocumentReady {
			continue
		}

		chunks, err := it.chunks.GetDocumentChunks(ctx, doc.Id)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			continue
		}

		if err := fn(doc, chunks); err != nil {
			return err
		}

		// Check context after each document
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
