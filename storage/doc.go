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


// Package storage defines the persistence contracts of docusense.
//
// Repositories decouple the pipeline from the storage engine. Two backends
// implement them: storage/badger (embedded, the default) and
// storage/postgres (pgvector). Both keep the same invariants:
//
//   - Chunks, vectors and keyword postings of a document become visible in
//     one transaction together with the document reaching ready and its job
//     reaching completed (ChunkRepository.CommitDocument).
//   - Job state moves only through TransitionJob, a compare-and-set on the
//     current state.
//   - A collection's embedding dimension is pinned by its first commit.
//
// # Constructor Return Type Pattern
//
// Public constructors return interfaces:
//
//	repos, err := badger.NewRepositories(path)  // returns *storage.Repositories
//
// Internal constructors (newDocumentRepository, newBackend, etc.) may return
// concrete types since they're only used within the implementation package.
//
// # Usage
//
//	repos, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repos.Close()
//
//	doc, err := repos.Documents.AddDocument(ctx, &core.Document{...})
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
