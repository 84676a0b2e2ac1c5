package lexical

import (
	"math"
	"slices"

	"github.com/poiesic/docusense/core"
)

// BM25 holds the Okapi BM25 free parameters.
type BM25 struct {
	K1 float64
	B  float64
}

// DefaultBM25 uses the customary k1=1.2, b=0.75.
var DefaultBM25 = BM25{K1: 1.2, B: 0.75}

// Posting is one chunk's entry for one term in a keyword index.
type Posting struct {
	ChunkId    core.ID
	DocumentId core.ID
	Sequence   int
	TF         int // occurrences of the term in the chunk
	Length     int // total terms in the chunk
}

// IDF returns the inverse document frequency of a term that occurs in df of n chunks.
func IDF(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// Score returns the contribution of one term to one chunk.
func (p BM25) Score(tf, length int, avgLength, idf float64) float64 {
	if tf <= 0 {
		return 0
	}
	if avgLength <= 0 {
		avgLength = 1
	}
	norm := p.K1 * (1 - p.B + p.B*float64(length)/avgLength)
	return idf * float64(tf) * (p.K1 + 1) / (float64(tf) + norm)
}

// Rank scores chunks against the postings of each query term and returns
// the top limit chunks by descending score. n is the number of chunks in
// the collection and avgLength their mean length.
func (p BM25) Rank(postings map[string][]Posting, n int, avgLength float64, limit int) []core.ScoredChunk {
	scores := make(map[core.ID]*core.ScoredChunk)
	for _, list := range postings {
		if len(list) == 0 {
			continue
		}
		idf := IDF(n, len(list))
		for _, post := range list {
			sc, ok := scores[post.ChunkId]
			if !ok {
				sc = &core.ScoredChunk{ChunkId: post.ChunkId, DocumentId: post.DocumentId, Sequence: post.Sequence}
				scores[post.ChunkId] = sc
			}
			sc.Score += p.Score(post.TF, post.Length, avgLength, idf)
		}
	}

	results := make([]core.ScoredChunk, 0, len(scores))
	for _, sc := range scores {
		results = append(results, *sc)
	}
	SortScored(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// SortScored orders results by descending score, breaking ties by
// sequence, then document ID, then chunk ID.
func SortScored(results []core.ScoredChunk) {
	slices.SortFunc(results, func(a, b core.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.Sequence != b.Sequence:
			return a.Sequence - b.Sequence
		case a.DocumentId != b.DocumentId:
			if a.DocumentId < b.DocumentId {
				return -1
			}
			return 1
		case a.ChunkId < b.ChunkId:
			return -1
		case a.ChunkId > b.ChunkId:
			return 1
		}
		return 0
	})
}
