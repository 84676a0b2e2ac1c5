package search

import (
	"slices"

	"github.com/poiesic/docusense/core"
)

// fuse scores every chunk found by either branch and returns them ranked.
// queryVector is nil when the vector branch was skipped; fusion then runs
// on keyword scores alone.
//
// Vector scores are cosine similarities clamped to [0, 1]. Keyword scores
// are BM25 divided by the best BM25 of the query, so the top keyword hit
// always normalizes to 1. A keyword-only hit still gets its exact cosine
// from its stored vector.
func fuse(
	chunks map[core.ID]*core.Chunk,
	vectorHits, keywordHits []core.ScoredChunk,
	queryVector []float32,
	identifiers []string,
	cfg Config,
) []*core.Candidate {
	vectorScores := make(map[core.ID]float64, len(vectorHits))
	for _, h := range vectorHits {
		vectorScores[h.ChunkId] = h.Score
	}
	keywordScores := make(map[core.ID]float64, len(keywordHits))
	maxKeyword := 0.0
	for _, h := range keywordHits {
		keywordScores[h.ChunkId] = h.Score
		maxKeyword = max(maxKeyword, h.Score)
	}

	seen := make(map[core.ID]bool, len(vectorHits)+len(keywordHits))
	candidates := make([]*core.Candidate, 0, len(vectorHits)+len(keywordHits))
	add := func(id core.ID) {
		if seen[id] {
			return
		}
		seen[id] = true
		chunk := chunks[id]
		if chunk == nil {
			return
		}

		vector, ok := vectorScores[id]
		if !ok && queryVector != nil {
			vector = cosine(queryVector, chunk.Vector)
		}
		keyword := keywordScores[id]
		normKeyword := 0.0
		if maxKeyword > 0 {
			normKeyword = keyword / maxKeyword
		}

		var fused float64
		if queryVector == nil {
			fused = (cfg.VectorWeight + cfg.KeywordWeight) * normKeyword
		} else {
			fused = cfg.VectorWeight*clamp01(vector) + cfg.KeywordWeight*normKeyword
		}
		fused += cfg.IdentifierBoost * identifierCoverage(chunk, identifiers)

		candidates = append(candidates, &core.Candidate{
			Chunk:        chunk,
			VectorScore:  vector,
			KeywordScore: keyword,
			FusedScore:   fused,
		})
	}
	for _, h := range vectorHits {
		add(h.ChunkId)
	}
	for _, h := range keywordHits {
		add(h.ChunkId)
	}

	sortCandidates(candidates)
	for i, c := range candidates {
		c.Rank = i + 1
	}
	return candidates
}

// sortCandidates orders by fused score descending, then chunk sequence,
// document ID and chunk ID ascending.
func sortCandidates(candidates []*core.Candidate) {
	slices.SortFunc(candidates, func(a, b *core.Candidate) int {
		switch {
		case a.FusedScore > b.FusedScore:
			return -1
		case a.FusedScore < b.FusedScore:
			return 1
		case a.Chunk.Sequence != b.Chunk.Sequence:
			return a.Chunk.Sequence - b.Chunk.Sequence
		case a.Chunk.DocumentId != b.Chunk.DocumentId:
			if a.Chunk.DocumentId < b.Chunk.DocumentId {
				return -1
			}
			return 1
		case a.Chunk.Id < b.Chunk.Id:
			return -1
		case a.Chunk.Id > b.Chunk.Id:
			return 1
		}
		return 0
	})
}
