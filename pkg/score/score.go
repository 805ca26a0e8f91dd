// Package score computes final session scores and applies them to the
// per-user leaderboard record under optimistic concurrency.
package score

import (
	"math"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

// ScoringConfig carries the score weights. The 70/30 split and the
// earliest-achieved tie-break are deliberate choices, kept configurable.
type ScoringConfig struct {
	VivaWeight float64 `json:"viva_weight"`
	CodeWeight float64 `json:"code_weight"`
}

// DefaultScoringConfig returns the standard 70/30 viva/code weighting.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{VivaWeight: 0.7, CodeWeight: 0.3}
}

// VivaAggregate returns the rounded mean of the three viva scores.
func VivaAggregate(res *types.AssessmentResult) int {
	sum := 0
	for _, entry := range res.Viva {
		sum += entry.Score
	}
	return int(math.Round(float64(sum) / float64(types.VivaCount)))
}

// Compute derives the final score: round(vivaWeight*viva + codeWeight*code)
// when a code score exists, else the viva aggregate. Halves round to even,
// so viva 80 with code 75 yields 78. The result is clamped to [0,100] even
// though inputs are expected pre-bounded.
func Compute(res *types.AssessmentResult, cfg ScoringConfig) int {
	viva := VivaAggregate(res)
	if res.CodeScore == nil {
		return Clamp(viva)
	}
	final := math.RoundToEven(cfg.VivaWeight*float64(viva) + cfg.CodeWeight*float64(*res.CodeScore))
	return Clamp(int(final))
}

// Clamp bounds a score to [0,100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
