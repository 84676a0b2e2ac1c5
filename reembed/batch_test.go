package reembed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docusense/ai/mock"
	"github.com/poiesic/docusense/core"
)

func testChunks(texts ...string) []*core.Chunk {
	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &core.Chunk{Id: core.ID(i + 1), Sequence: i, Text: text}
	}
	return chunks
}

func TestBatchProcessor_Process(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(8)
	bp := NewBatchProcessor(embedder, 2, 3, time.Millisecond)

	chunks := testChunks("alpha pump", "beta valve", "gamma seal", "delta gasket", "epsilon bolt")
	vectors, err := bp.Process(context.Background(), chunks, 8)
	require.NoError(t, err)

	assert.Equal(t, 3, embedder.CallCount(), "five chunks in batches of two")
	require.Len(t, vectors, 5)
	for _, c := range chunks {
		require.Contains(t, vectors, c.Id)
		assert.Len(t, vectors[c.Id], 8)
		assert.InDelta(t, 1.0, magnitude(vectors[c.Id]), 1e-6)
	}
}

func TestBatchProcessor_DefaultBatchSize(t *testing.T) {
	bp := NewBatchProcessor(mock.NewMockEmbedder(), 0, 1, 0)
	assert.Equal(t, DefaultBatchSize, bp.batchSize)
}

func TestBatchProcessor_RetriesTransientFailures(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(4)
	failures := 2
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("connection reset")
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.BagOfWordsVector(text, 4)
		}
		return out, nil
	}

	bp := NewBatchProcessor(embedder, 10, 3, time.Millisecond)
	vectors, err := bp.Process(context.Background(), testChunks("one", "two"), 4)
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 3, embedder.CallCount())
}

func TestBatchProcessor_Errors(t *testing.T) {
	tests := []struct {
		name      string
		embed     func(ctx context.Context, texts []string) ([][]float32, error)
		dimension int
		wantErr   error
		calls     int
	}{
		{
			name: "gives up after max attempts",
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				return nil, errors.New("service unavailable")
			},
			dimension: 4,
			wantErr:   core.ErrEmbeddingUnavailable,
			calls:     3,
		},
		{
			name: "wrong count",
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				return [][]float32{{1, 0, 0, 0}}, nil
			},
			dimension: 4,
			wantErr:   core.ErrEmbeddingUnavailable,
			calls:     1,
		},
		{
			name: "wrong dimension",
			embed: func(ctx context.Context, texts []string) ([][]float32, error) {
				out := make([][]float32, len(texts))
				for i := range out {
					out[i] = []float32{1, 0}
				}
				return out, nil
			},
			dimension: 4,
			wantErr:   core.ErrDimensionMismatch,
			calls:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := mock.NewMockEmbedder()
			embedder.EmbedTextsFunc = tt.embed

			bp := NewBatchProcessor(embedder, 10, 3, time.Millisecond)
			vectors, err := bp.Process(context.Background(), testChunks("one", "two"), tt.dimension)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, vectors)
			assert.Equal(t, tt.calls, embedder.CallCount())
		})
	}
}

func TestBatchProcessor_ContextCanceled(t *testing.T) {
	embedder := mock.NewMockEmbedderWithDimension(4)
	bp := NewBatchProcessor(embedder, 10, 3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bp.Process(ctx, testChunks("one"), 4)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, core.ErrEmbeddingUnavailable)
}
