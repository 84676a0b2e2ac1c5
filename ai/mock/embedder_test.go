package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestMockEmbedder_Default(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	vectors, err := m.EmbedTexts(ctx, []string{
		"quality audit procedure",
		"quality audit schedule",
		"banana bread recipe",
	})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Len(t, vectors[0], DefaultDimension)

	assert.InDelta(t, 1.0, cosine(vectors[0], vectors[0]), 1e-5, "vectors are unit length")
	assert.Greater(t, cosine(vectors[0], vectors[1]), cosine(vectors[0], vectors[2]))
	assert.Equal(t, 1, m.CallCount())
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	a := BagOfWordsVector("same text", 64)
	b := BagOfWordsVector("same text", 64)
	assert.Equal(t, a, b)

	empty := BagOfWordsVector("...", 64)
	assert.InDelta(t, 1.0, cosine(empty, empty), 1e-5)
}

func TestMockEmbedder_Overrides(t *testing.T) {
	m := NewMockEmbedderWithDimension(8)
	boom := errors.New("boom")
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, boom
	}

	_, err := m.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)

	v, err := m.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Equal(t, 2, m.CallCount())

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
	assert.Nil(t, m.EmbedTextsFunc)
}
