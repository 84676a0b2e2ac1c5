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


package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/poiesic/docusense/core"
)

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// MarshalID serializes an ID to 8 big-endian bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) < 8 {
		return 0, ErrTruncatedData
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) ([]byte, error) {
	return encode(doc)
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	return decode[core.Document](data)
}

// MarshalCollection serializes a Collection to bytes.
func MarshalCollection(col *core.Collection) ([]byte, error) {
	return encode(col)
}

// UnmarshalCollection deserializes a Collection from bytes.
func UnmarshalCollection(data []byte) (*core.Collection, error) {
	return decode[core.Collection](data)
}

// MarshalChunk serializes a Chunk without its vector. Vectors are stored
// separately with MarshalVector so similarity scans skip chunk text.
func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	c := *chunk
	c.Vector = nil
	return encode(&c)
}

// UnmarshalChunk deserializes a Chunk from bytes. The vector is left empty.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	return decode[core.Chunk](data)
}

// MarshalJob serializes an IngestionJob to bytes.
func MarshalJob(job *core.IngestionJob) ([]byte, error) {
	return encode(job)
}

// UnmarshalJob deserializes an IngestionJob from bytes.
func UnmarshalJob(data []byte) (*core.IngestionJob, error) {
	return decode[core.IngestionJob](data)
}

// MarshalAnswer serializes an Answer to bytes.
func MarshalAnswer(answer *core.Answer) ([]byte, error) {
	return encode(answer)
}

// UnmarshalAnswer deserializes an Answer from bytes.
func UnmarshalAnswer(data []byte) (*core.Answer, error) {
	return decode[core.Answer](data)
}

// MarshalFeedback serializes a Feedback to bytes.
func MarshalFeedback(fb *core.Feedback) ([]byte, error) {
	return encode(fb)
}

// UnmarshalFeedback deserializes a Feedback from bytes.
func UnmarshalFeedback(data []byte) (*core.Feedback, error) {
	return decode[core.Feedback](data)
}

// MarshalVector packs a vector as little-endian float32 values.
func MarshalVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// UnmarshalVector unpacks a vector written by MarshalVector.
func UnmarshalVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, ErrTruncatedData
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}

// MarshalEmbedding prefixes a packed vector with the owning document and
// the chunk sequence, so similarity scans can rank without reading chunks.
func MarshalEmbedding(documentID core.ID, sequence int, vector []float32) []byte {
	buf := make([]byte, 12, 12+4*len(vector))
	binary.BigEndian.PutUint64(buf, uint64(documentID))
	binary.BigEndian.PutUint32(buf[8:], uint32(sequence))
	return append(buf, MarshalVector(vector)...)
}

// UnmarshalEmbedding unpacks a record written by MarshalEmbedding.
func UnmarshalEmbedding(data []byte) (documentID core.ID, sequence int, vector []float32, err error) {
	if len(data) < 12 {
		return 0, 0, nil, ErrTruncatedData
	}
	documentID = core.ID(binary.BigEndian.Uint64(data))
	sequence = int(binary.BigEndian.Uint32(data[8:]))
	vector, err = UnmarshalVector(data[12:])
	return documentID, sequence, vector, err
}

// MarshalPosting packs the per-chunk fields of a keyword posting.
func MarshalPosting(documentID core.ID, sequence, tf, length int) []byte {
	buf := make([]byte, 8, 8+3*binary.MaxVarintLen64)
	binary.BigEndian.PutUint64(buf, uint64(documentID))
	buf = binary.AppendUvarint(buf, uint64(sequence))
	buf = binary.AppendUvarint(buf, uint64(tf))
	buf = binary.AppendUvarint(buf, uint64(length))
	return buf
}

// UnmarshalPosting unpacks a posting written by MarshalPosting.
func UnmarshalPosting(data []byte) (documentID core.ID, sequence, tf, length int, err error) {
	if len(data) < 8 {
		return 0, 0, 0, 0, ErrTruncatedData
	}
	documentID = core.ID(binary.BigEndian.Uint64(data))
	rest := data[8:]
	fields := make([]int, 3)
	for i := range fields {
		v, n := binary.Uvarint(rest)
		if n <= 0 {
			return 0, 0, 0, 0, ErrTruncatedData
		}
		fields[i] = int(v)
		rest = rest[n:]
	}
	return documentID, fields[0], fields[1], fields[2], nil
}
