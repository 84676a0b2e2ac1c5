package storage

import (
	"errors"
	"testing"

	"github.com/poiesic/docusense/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalID_Truncated(t *testing.T) {
	_, err := UnmarshalID([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncatedData)

	id, err := UnmarshalID(MarshalID(core.ID(1<<63 + 7)))
	require.NoError(t, err)
	assert.Equal(t, core.ID(1<<63+7), id)
}

func TestMarshalID_SortsNumerically(t *testing.T) {
	a := MarshalID(255)
	b := MarshalID(256)
	assert.True(t, string(a) < string(b), "big-endian IDs must sort in numeric order")
}

func TestMarshalChunk_DropsVector(t *testing.T) {
	chunk := &core.Chunk{
		Id:       9,
		Text:     "ISO-9001 audit",
		Terms:    map[string]int{"iso": 1, "9001": 1, "iso-9001": 1, "audit": 1},
		Vector:   []float32{0.5, 0.5},
		Span:     core.Span{Start: 10, End: 24},
		Sequence: 2,
	}

	data, err := MarshalChunk(chunk)
	require.NoError(t, err)
	assert.Len(t, chunk.Vector, 2, "input chunk must not be modified")

	decoded, err := UnmarshalChunk(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Vector)
	assert.Equal(t, chunk.Terms, decoded.Terms)
	assert.Equal(t, chunk.Span, decoded.Span)
}

func TestUnmarshalDocument_Invalid(t *testing.T) {
	_, err := UnmarshalDocument([]byte("{not json"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestVectorEncoding(t *testing.T) {
	vector := []float32{0, -1.5, 3.25, 1e-7}
	decoded, err := UnmarshalVector(MarshalVector(vector))
	require.NoError(t, err)
	assert.Equal(t, vector, decoded)

	_, err = UnmarshalVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncatedData)

	empty, err := UnmarshalVector(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEmbeddingEncoding(t *testing.T) {
	data := MarshalEmbedding(7, 12, []float32{0.25, 0.75})
	doc, seq, vector, err := UnmarshalEmbedding(data)
	require.NoError(t, err)
	assert.Equal(t, core.ID(7), doc)
	assert.Equal(t, 12, seq)
	assert.Equal(t, []float32{0.25, 0.75}, vector)

	_, _, _, err = UnmarshalEmbedding(data[:10])
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestPostingEncoding(t *testing.T) {
	data := MarshalPosting(42, 3, 2, 180)
	doc, seq, tf, length, err := UnmarshalPosting(data)
	require.NoError(t, err)
	assert.Equal(t, core.ID(42), doc)
	assert.Equal(t, 3, seq)
	assert.Equal(t, 2, tf)
	assert.Equal(t, 180, length)

	_, _, _, _, err = UnmarshalPosting(data[:9])
	assert.ErrorIs(t, err, ErrTruncatedData)
}

type closer struct {
	err    error
	closed bool
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

type fakeDocs struct {
	DocumentRepository
	closer
}

func (f *fakeDocs) Close() error { return f.closer.Close() }

func TestRepositories_Close(t *testing.T) {
	docs := &fakeDocs{closer: closer{err: errors.New("boom")}}
	backendClosed := false

	repos := NewRepositories(docs, nil, nil, nil, func() error {
		backendClosed = true
		return nil
	})

	err := repos.Close()
	assert.EqualError(t, err, "boom")
	assert.True(t, docs.closed)
	assert.True(t, backendClosed, "backend must close even when a repository fails")
}
