package processing

import (
	"fmt"
	"strings"
	"testing"

	"github.com/poiesic/docusense/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconstruct joins chunk texts, dropping each chunk's overlap with its predecessor.
func reconstruct(t *testing.T, text string, spans []core.Span) string {
	t.Helper()
	runes := []rune(text)
	var b strings.Builder
	prevEnd := 0
	for i, s := range spans {
		chunk := runes[s.Start:s.End]
		if i == 0 {
			b.WriteString(string(chunk))
		} else {
			require.LessOrEqual(t, s.Start, prevEnd, "gap before chunk %d", i)
			b.WriteString(string(chunk[prevEnd-s.Start:]))
		}
		prevEnd = s.End
	}
	return b.String()
}

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "The auditor reviews clause %d of ISO-9001. ", i)
	}
	return strings.TrimSpace(b.String())
}

func TestNewChunker(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		mode    Mode
		wantErr bool
	}{
		{"valid character", 500, 50, ModeCharacter, false},
		{"valid sentence", 500, 0, ModeSentence, false},
		{"zero size", 0, 0, ModeCharacter, true},
		{"negative overlap", 100, -1, ModeCharacter, true},
		{"overlap equals size", 100, 100, ModeCharacter, true},
		{"unknown mode", 100, 10, Mode("paragraph"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(tt.size, tt.overlap, tt.mode)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChunkConfig)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestChunker_ThreeChunkReconstruction(t *testing.T) {
	text := strings.Repeat("abcdefghijklmnopqrstuvwxy", 52) // 1300 runes
	c := &Chunker{Size: 500, Overlap: 50, Mode: ModeCharacter}

	spans := c.Split(text)
	require.Len(t, spans, 3)
	assert.Equal(t, core.Span{Start: 0, End: 500}, spans[0])
	assert.Equal(t, core.Span{Start: 450, End: 950}, spans[1])
	assert.Equal(t, core.Span{Start: 900, End: 1300}, spans[2])

	assert.Equal(t, text, reconstruct(t, text, spans))
}

func TestChunker_CharacterModeProperties(t *testing.T) {
	configs := []struct{ size, overlap int }{
		{500, 50}, {100, 0}, {64, 63}, {10, 3}, {1, 0},
	}
	lengths := []int{1, 9, 10, 11, 99, 100, 101, 499, 1000, 2345}

	for _, cfg := range configs {
		for _, n := range lengths {
			t.Run(fmt.Sprintf("size=%d overlap=%d n=%d", cfg.size, cfg.overlap, n), func(t *testing.T) {
				text := strings.Repeat("é", n) // multi-byte runes
				c := &Chunker{Size: cfg.size, Overlap: cfg.overlap, Mode: ModeCharacter}
				spans := c.Split(text)

				require.NotEmpty(t, spans)
				assert.Equal(t, 0, spans[0].Start)
				assert.Equal(t, n, spans[len(spans)-1].End)
				for i, s := range spans {
					assert.LessOrEqual(t, s.Len(), cfg.size)
					assert.Greater(t, s.Len(), 0)
					if i > 0 {
						assert.Greater(t, s.Start, spans[i-1].Start, "sequence strictly increasing")
						assert.Equal(t, cfg.overlap, spans[i-1].End-s.Start, "exact overlap")
					}
				}
				assert.Equal(t, text, reconstruct(t, text, spans))
			})
		}
	}
}

func TestChunker_Empty(t *testing.T) {
	c := &Chunker{Size: 10, Overlap: 2, Mode: ModeCharacter}
	assert.Nil(t, c.Split(""))
}

func TestChunker_SentenceMode(t *testing.T) {
	text := sentences(20)
	runes := []rune(text)
	c := &Chunker{Size: 150, Overlap: 60, Mode: ModeSentence}

	spans := c.Split(text)
	require.Greater(t, len(spans), 2)
	assert.Equal(t, text, reconstruct(t, text, spans))

	for i, s := range spans {
		assert.LessOrEqual(t, s.Len(), c.Size)
		if i < len(spans)-1 {
			chunk := strings.TrimSpace(string(runes[s.Start:s.End]))
			assert.True(t, strings.HasSuffix(chunk, "."), "chunk %d ends mid-sentence: %q", i, chunk)
		}
		if i > 0 {
			assert.True(t, strings.HasPrefix(string(runes[s.Start:s.End]), "The auditor"),
				"chunk %d starts mid-sentence", i)
			overlap := spans[i-1].End - s.Start
			assert.GreaterOrEqual(t, overlap, 0)
			assert.LessOrEqual(t, overlap, c.Overlap)
		}
	}
}

func TestChunker_SentenceModeFallsBackToHardCut(t *testing.T) {
	text := "Short one. " + strings.Repeat("x", 300)
	c := &Chunker{Size: 100, Overlap: 10, Mode: ModeSentence}

	spans := c.Split(text)
	assert.Equal(t, text, reconstruct(t, text, spans))
	assert.Equal(t, core.Span{Start: 0, End: 11}, spans[0])
	for _, s := range spans {
		assert.LessOrEqual(t, s.Len(), 100)
	}
}

func TestSentenceBoundaries(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string // text starting at each boundary, first 5 runes
	}{
		{
			name: "terminal punctuation",
			text: "One. Two! Three? Four",
			want: []string{"Two! ", "Three", "Four"},
		},
		{
			name: "abbreviations and initials",
			text: "Ask Dr. Smith, e.g. now. J. Doe agreed.",
			want: []string{"J. Do"},
		},
		{
			name: "closing quote",
			text: `He said "stop." Then left.`,
			want: []string{"Then "},
		},
		{
			name: "paragraph and heading",
			text: "intro text\n\nbody text\n# Heading",
			want: []string{"body ", "# Hea"},
		},
		{
			name: "decimal numbers",
			text: "Version 2.5 shipped.",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runes := []rune(tt.text)
			var got []string
			for _, b := range sentenceBoundaries(runes) {
				end := min(b+5, len(runes))
				got = append(got, string(runes[b:end]))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
