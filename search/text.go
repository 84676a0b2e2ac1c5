package search

import (
	"math"

	"github.com/poiesic/docusense/core"
)

// identifierCoverage returns the fraction of identifiers that occur as
// keyword terms of chunk. Identifiers come from lexical.Identifiers and
// are already lower-cased.
func identifierCoverage(chunk *core.Chunk, identifiers []string) float64 {
	if len(identifiers) == 0 || len(chunk.Terms) == 0 {
		return 0
	}
	found := 0
	for _, id := range identifiers {
		if chunk.Terms[id] > 0 {
			found++
		}
	}
	return float64(found) / float64(len(identifiers))
}

// cosine returns the cosine similarity of two vectors, or 0 when they
// cannot be compared.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
