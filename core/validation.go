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
	"fmt"
	"regexp"
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateCollectionName checks that name is 1-64 letters, digits, '_' or '-'.
// Storage keys embed the name, so separators are not allowed.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// ValidateSourceType validates that a SourceType has a supported value.
func ValidateSourceType(st SourceType) error {
	switch st {
	case SourceTypeText, SourceTypeMarkdown, SourceTypePDF, SourceTypeURL:
		return nil
	}
	return fmt.Errorf("%w: source type %q", ErrUnsupportedFormat, st)
}

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Collection must be a valid collection name
//   - SourceType must be supported
//   - URL documents need a Source; all others need Content
//
// NOT validated (populated by ingestion):
//   - Checksum, Status, ChunkCount
//   - ID (0 is valid before the document is stored)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if err := ValidateCollectionName(doc.Collection); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if err := ValidateSourceType(doc.SourceType); err != nil {
		return err
	}

	if doc.SourceType == SourceTypeURL {
		if doc.Source == "" {
			return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContent)
		}
		return nil
	}

	if doc.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContent)
	}

	return nil
}

// ValidateQuery validates the arguments of a question against a collection.
func ValidateQuery(collection, question string, k int) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if question == "" {
		return ErrInvalidQuestion
	}
	if k < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidResultCount, k)
	}
	return nil
}

// ValidateRating checks a feedback rating.
func ValidateRating(rating int) error {
	if rating != 1 && rating != -1 {
		return fmt.Errorf("%w: %d", ErrInvalidRating, rating)
	}
	return nil
}
