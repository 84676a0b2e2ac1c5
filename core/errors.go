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


package core

import (
	"context"
	"errors"
	"fmt"
)

// Pipeline errors. Every failure surfaced by ingestion or a query wraps one of these.
var (
	// ErrUnsupportedFormat indicates a source type outside the supported set.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyDocument indicates no extractable text remained after normalization.
	ErrEmptyDocument = errors.New("empty document")

	// ErrEmbeddingUnavailable indicates the embedding provider failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrSynthesisUnavailable indicates the LLM failed or timed out.
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")

	// ErrIndexUnavailable indicates a vector or keyword index failed or timed out.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrJobAlreadyActive indicates a start attempt on a job that is already running.
	ErrJobAlreadyActive = errors.New("job already active")

	// ErrJobAlreadyTerminal indicates a start attempt on a completed or failed job.
	ErrJobAlreadyTerminal = errors.New("job already terminal")

	// ErrDimensionMismatch indicates vectors whose dimension differs from the collection's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrDuplicateDocument indicates identical content already exists in the collection.
	ErrDuplicateDocument = errors.New("duplicate document")

	// ErrJobCanceled indicates a job stopped by an explicit cancel request.
	ErrJobCanceled = errors.New("job canceled")

	// ErrJobInterrupted indicates a job that was running when the process stopped.
	ErrJobInterrupted = errors.New("job interrupted")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidCollection indicates a malformed collection name.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrEmptyContent indicates neither content nor a source was supplied.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidQuestion indicates an empty question.
	ErrInvalidQuestion = errors.New("question cannot be empty")

	// ErrInvalidResultCount indicates k < 1.
	ErrInvalidResultCount = errors.New("result count must be positive")

	// ErrInvalidRating indicates feedback other than +1 or -1.
	ErrInvalidRating = errors.New("rating must be 1 or -1")
)

// ErrorKind names an error class for job records and API responses.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindUnsupportedFormat    ErrorKind = "UnsupportedFormat"
	KindEmptyDocument        ErrorKind = "EmptyDocument"
	KindEmbeddingUnavailable ErrorKind = "EmbeddingUnavailable"
	KindSynthesisUnavailable ErrorKind = "SynthesisUnavailable"
	KindIndexUnavailable     ErrorKind = "IndexUnavailable"
	KindJobAlreadyActive     ErrorKind = "JobAlreadyActive"
	KindJobAlreadyTerminal   ErrorKind = "JobAlreadyTerminal"
	KindDimensionMismatch    ErrorKind = "DimensionMismatch"
	KindDuplicateDocument    ErrorKind = "DuplicateDocument"
	KindInvalidInput         ErrorKind = "InvalidInput"
	KindCanceled             ErrorKind = "Canceled"
	KindInterrupted          ErrorKind = "Interrupted"
	KindTimeout              ErrorKind = "Timeout"
	KindInternal             ErrorKind = "Internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrEmptyDocument, KindEmptyDocument},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrEmbeddingUnavailable, KindEmbeddingUnavailable},
	{ErrSynthesisUnavailable, KindSynthesisUnavailable},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrJobAlreadyActive, KindJobAlreadyActive},
	{ErrJobAlreadyTerminal, KindJobAlreadyTerminal},
	{ErrDuplicateDocument, KindDuplicateDocument},
	{ErrInvalidDocument, KindInvalidInput},
	{ErrInvalidCollection, KindInvalidInput},
	{ErrEmptyContent, KindInvalidInput},
	{ErrInvalidQuestion, KindInvalidInput},
	{ErrInvalidResultCount, KindInvalidInput},
	{ErrInvalidRating, KindInvalidInput},
	{ErrJobCanceled, KindCanceled},
	{ErrJobInterrupted, KindInterrupted},
	{context.Canceled, KindCanceled},
	{context.DeadlineExceeded, KindTimeout},
}

// KindOf returns the taxonomy kind of err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether err is a transient capability failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrSynthesisUnavailable) ||
		errors.Is(err, ErrIndexUnavailable)
}

// DuplicateDocumentError reports the document that already holds the same content.
type DuplicateDocumentError struct {
	Collection string
	ExistingId ID
}

func (e *DuplicateDocumentError) Error() string {
	return fmt.Sprintf("%s: collection %q already contains it as document %d", ErrDuplicateDocument, e.Collection, e.ExistingId)
}

func (e *DuplicateDocumentError) Unwrap() error {
	return ErrDuplicateDocument
}
