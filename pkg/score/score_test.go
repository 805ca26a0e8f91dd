package score

import (
	"testing"

	"github.com/voxtutor/voxtutor/pkg/core/types"
)

func assessment(viva [3]int, code *int) *types.AssessmentResult {
	res := &types.AssessmentResult{CodeScore: code}
	for i, s := range viva {
		res.Viva[i] = types.VivaEntry{Question: "q", Answer: "a", Score: s}
	}
	return res
}

func intPtr(v int) *int { return &v }

func TestVivaAggregate_RoundedMean(t *testing.T) {
	cases := []struct {
		viva [3]int
		want int
	}{
		{[3]int{80, 90, 70}, 80},
		{[3]int{70, 75, 81}, 75},  // 75.33 rounds down
		{[3]int{70, 75, 82}, 76},  // 75.67 rounds up
		{[3]int{0, 0, 0}, 0},
		{[3]int{100, 100, 100}, 100},
	}
	for _, tc := range cases {
		if got := VivaAggregate(assessment(tc.viva, nil)); got != tc.want {
			t.Errorf("VivaAggregate(%v) = %d, want %d", tc.viva, got, tc.want)
		}
	}
}

func TestCompute_WeightedFinalScore(t *testing.T) {
	cfg := DefaultScoringConfig()

	// viva 80, code 75: 0.7*80 + 0.3*75 = 78.5, half rounds to even.
	got := Compute(assessment([3]int{80, 90, 70}, intPtr(75)), cfg)
	if got != 78 {
		t.Fatalf("expected 78, got %d", got)
	}

	// viva 90, code 80: 0.7*90 + 0.3*80 = 87, no rounding involved.
	got = Compute(assessment([3]int{90, 90, 90}, intPtr(80)), cfg)
	if got != 87 {
		t.Fatalf("expected 87, got %d", got)
	}

	// No code submission: the viva aggregate stands alone.
	got = Compute(assessment([3]int{80, 90, 70}, nil), cfg)
	if got != 80 {
		t.Fatalf("expected 80 without a code score, got %d", got)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(-5) != 0 {
		t.Error("expected negative clamped to 0")
	}
	if Clamp(105) != 100 {
		t.Error("expected overflow clamped to 100")
	}
	if Clamp(42) != 42 {
		t.Error("expected in-range score unchanged")
	}
}
