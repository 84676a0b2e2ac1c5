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


// Package search provides hybrid vector and keyword retrieval.
//
// The Searcher type answers a query against one collection in three steps:
//   - The query embedding plus vector search and a BM25 keyword search run
//     concurrently
//   - Both result lists are normalized and fused with configurable weights,
//     plus a boost for chunks containing identifier-like query terms
//   - Ties are broken by chunk sequence, then document ID, so the same
//     query against the same collection always ranks identically
//
// Only chunks of ready documents are ever stored, so in-flight ingestion
// is invisible to search.
//
// A query embedding failure fails the search unless keyword fallback is
// configured, in which case the keyword results are fused alone.
package search
