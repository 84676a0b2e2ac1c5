package synthesis

import (
	"math"

	"github.com/poiesic/docusense/core"
)

// Confidence weights.
const (
	citedWeight     = 0.5
	topWeight       = 0.3
	agreementWeight = 0.2
	agreementWindow = 3
)

// Confidence scores an answer in [0, 1] from the candidates it was built
// on and the 1-based indices it cited. It rises with the fused scores of
// the cited candidates and the top candidate, and falls as the top
// candidates disagree.
func Confidence(candidates []*core.Candidate, cited []int) float64 {
	if len(candidates) == 0 {
		return 0
	}

	top := clamp01(candidates[0].FusedScore)

	citedMean, count := 0.0, 0
	for _, idx := range cited {
		if idx < 1 || idx > len(candidates) {
			continue
		}
		citedMean += clamp01(candidates[idx-1].FusedScore)
		count++
	}
	if count > 0 {
		citedMean /= float64(count)
	}

	return clamp01(citedWeight*citedMean + topWeight*top + agreementWeight*agreement(candidates))
}

// agreement is 1 when the top candidates score alike and approaches 0 as
// the weakest of them falls away from the best.
func agreement(candidates []*core.Candidate) float64 {
	top := clamp01(candidates[0].FusedScore)
	if top == 0 {
		return 0
	}
	lowest := top
	for _, c := range candidates[:min(agreementWindow, len(candidates))] {
		lowest = math.Min(lowest, clamp01(c.FusedScore))
	}
	return clamp01(1 - (top-lowest)/top)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
