package risk

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/vanshika/swapguard/internal/domain"
)

func TestClassify_TierBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  domain.RiskLevel
		c     domain.Constraints
	}{
		{100, domain.LowRisk, domain.Constraints{MaxDeliveryDays: 14}},
		{80, domain.LowRisk, domain.Constraints{MaxDeliveryDays: 14}},
		{79, domain.MediumRisk, domain.Constraints{PhotosRequired: true, MaxDeliveryDays: 10}},
		{60, domain.MediumRisk, domain.Constraints{PhotosRequired: true, MaxDeliveryDays: 10}},
		{59, domain.HighRisk, domain.Constraints{PhotosRequired: true, TrackingRequired: true, MaxDeliveryDays: 7}},
		{40, domain.HighRisk, domain.Constraints{PhotosRequired: true, TrackingRequired: true, MaxDeliveryDays: 7}},
		{39, domain.VeryHighRisk, domain.Constraints{PhotosRequired: true, TrackingRequired: true, MaxDeliveryDays: 5, RequiresInsurance: true}},
		{0, domain.VeryHighRisk, domain.Constraints{PhotosRequired: true, TrackingRequired: true, MaxDeliveryDays: 5, RequiresInsurance: true}},
	}

	for _, tc := range tests {
		got := Classify(tc.score, tc.score)
		assert.Equal(t, tc.want, got.RiskLevel, "score %d", tc.score)
		assert.Equal(t, tc.c, got.Constraints, "score %d", tc.score)
		assert.NotEmpty(t, got.Recommendation)
	}
}

func TestClassify_WeakestLink(t *testing.T) {
	assert.Equal(t, domain.LowRisk, Classify(90, 90).RiskLevel)
	assert.Equal(t, domain.VeryHighRisk, Classify(10, 10).RiskLevel)
	assert.Equal(t, Classify(10, 10).RiskLevel, Classify(90, 10).RiskLevel)
	assert.Equal(t, domain.LowRisk, Classify(85, 90).RiskLevel)

	a := Classify(90, 35)
	assert.Equal(t, domain.VeryHighRisk, a.RiskLevel)
	assert.True(t, a.Constraints.PhotosRequired)
	assert.True(t, a.Constraints.RequiresInsurance)
	assert.Equal(t, 35, a.LowestScore)
}

func TestClassify_ClampsOutOfRangeInput(t *testing.T) {
	assert.Equal(t, domain.VeryHighRisk, Classify(-20, 90).RiskLevel)
	assert.Equal(t, domain.LowRisk, Classify(500, 120).RiskLevel)
}

func TestClassifyWithFallback(t *testing.T) {
	boom := errors.New("profile unreadable")

	both := ClassifyWithFallback(50, boom, 50, boom)
	assert.Equal(t, domain.HighRisk, both.RiskLevel)
	assert.True(t, both.Degraded)

	// A healthy low-friction partner cannot relax the fallback.
	one := ClassifyWithFallback(50, boom, 95, nil)
	assert.Equal(t, domain.HighRisk, one.RiskLevel)
	assert.True(t, one.Degraded)

	// A healthy but weak partner tightens it.
	weak := ClassifyWithFallback(20, nil, 50, boom)
	assert.Equal(t, domain.VeryHighRisk, weak.RiskLevel)

	clean := ClassifyWithFallback(85, nil, 90, nil)
	assert.Equal(t, domain.LowRisk, clean.RiskLevel)
	assert.False(t, clean.Degraded)
}

func TestTiers_EvaluationOrderIsDescendingFloors(t *testing.T) {
	rows := Tiers()
	assert.Len(t, rows, int(domain.RiskLevelCount))
	for i := 1; i < len(rows); i++ {
		assert.Less(t, rows[i].MinScore, rows[i-1].MinScore)
	}
}

func TestClassify_FrictionNonIncreasingInScore(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("higher score never adds friction", prop.ForAll(
		func(a, b int) bool {
			lo, hi := min(a, b), max(a, b)
			return Classify(hi, hi).RiskLevel <= Classify(lo, lo).RiskLevel
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.Property("tier depends only on the weaker score", prop.ForAll(
		func(a, b int) bool {
			lo := min(a, b)
			return Classify(a, b) == Classify(lo, lo)
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
