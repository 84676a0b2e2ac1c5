package processing

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/poiesic/docusense/core"
)

// Mode selects where a Chunker may cut.
type Mode string

const (
	// ModeCharacter cuts at fixed rune counts with exact overlap.
	ModeCharacter Mode = "character"
	// ModeSentence cuts only between sentences unless a sentence is too long.
	ModeSentence Mode = "sentence"
)

// Chunker splits normalized text into overlapping spans.
type Chunker struct {
	Size    int // maximum runes per chunk
	Overlap int // runes shared by consecutive chunks
	Mode    Mode
}

// NewChunker validates the parameters and returns a Chunker.
func NewChunker(size, overlap int, mode Mode) (*Chunker, error) {
	c := &Chunker{Size: size, Overlap: overlap, Mode: mode}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that size is positive, overlap is in [0, size) and the mode is known.
func (c *Chunker) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("%w: size %d", ErrInvalidChunkConfig, c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("%w: overlap %d with size %d", ErrInvalidChunkConfig, c.Overlap, c.Size)
	}
	if c.Mode != ModeCharacter && c.Mode != ModeSentence {
		return fmt.Errorf("%w: mode %q", ErrInvalidChunkConfig, c.Mode)
	}
	return nil
}

// Split returns the chunk spans of text in rune offsets. The spans start
// at 0, end at the text length, and each starts before the previous one ends.
func (c *Chunker) Split(text string) []core.Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var bounds []int
	if c.Mode == ModeSentence {
		bounds = sentenceBoundaries(runes)
	}

	var spans []core.Span
	start := 0
	for {
		end := start + c.Size
		if end >= n {
			return append(spans, core.Span{Start: start, End: n})
		}

		atSentence := false
		if b, ok := lastBoundary(bounds, start+1, end); ok {
			end = b
			atSentence = true
		}
		spans = append(spans, core.Span{Start: start, End: end})

		next := end - c.Overlap
		if atSentence {
			// Carry whole sentences only.
			next = end
			if b, ok := firstBoundary(bounds, max(end-c.Overlap, start+1), end-1); ok {
				next = b
			}
		}
		if next <= start {
			next = end
		}
		start = next
	}
}

// lastBoundary returns the largest boundary in [lo, hi].
func lastBoundary(bounds []int, lo, hi int) (int, bool) {
	i := sort.SearchInts(bounds, hi+1) - 1
	if i >= 0 && bounds[i] >= lo {
		return bounds[i], true
	}
	return 0, false
}

// firstBoundary returns the smallest boundary in [lo, hi].
func firstBoundary(bounds []int, lo, hi int) (int, bool) {
	i := sort.SearchInts(bounds, lo)
	if i < len(bounds) && bounds[i] <= hi {
		return bounds[i], true
	}
	return 0, false
}

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true,
	"jr": true, "st": true, "vs": true, "etc": true, "e.g": true, "i.e": true,
	"fig": true, "no": true, "inc": true, "ltd": true, "co": true,
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

// sentenceBoundaries returns the rune offsets at which a new sentence
// starts: after terminal punctuation followed by whitespace, after a
// paragraph break, and before a markdown heading line.
func sentenceBoundaries(runes []rune) []int {
	var bounds []int
	i := 0
	n := len(runes)
	for i < n {
		if !unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		wsStart := i
		newlines := 0
		for i < n && unicode.IsSpace(runes[i]) {
			if runes[i] == '\n' {
				newlines++
			}
			i++
		}
		if i >= n || wsStart == 0 {
			continue
		}
		switch {
		case newlines >= 2:
			bounds = append(bounds, i)
		case newlines == 1 && runes[i] == '#':
			bounds = append(bounds, i)
		case endsSentence(runes, wsStart-1):
			bounds = append(bounds, i)
		}
	}
	return bounds
}

// endsSentence reports whether the rune at j closes a sentence.
func endsSentence(runes []rune, j int) bool {
	if j >= 0 && isCloser(runes[j]) {
		j--
	}
	if j < 0 || !isTerminal(runes[j]) {
		return false
	}
	if runes[j] != '.' {
		return true
	}

	// Find the word before the period.
	k := j
	for k > 0 && !unicode.IsSpace(runes[k-1]) {
		k--
	}
	word := strings.ToLower(strings.TrimLeft(string(runes[k:j]), "(\"'"))
	if abbreviations[word] {
		return false
	}
	// A single capital is an initial ("J. Smith").
	if w := []rune(word); len(w) == 1 && unicode.IsLetter(w[0]) && unicode.IsUpper(runes[j-1]) {
		return false
	}
	return true
}
