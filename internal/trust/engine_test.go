package trust

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/swapguard/internal/domain"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine().WithClock(func() time.Time { return fixedNow })
}

func TestCompute_NewUserScoresDefault(t *testing.T) {
	p := domain.NewUserTrustProfile("USR-1", fixedNow)

	score, err := newTestEngine().Compute(p)
	require.NoError(t, err)
	assert.Equal(t, 50, score)
}

func TestCompute_Components(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.UserTrustProfile)
		want   int
	}{
		{
			name:   "one full month adds two points",
			mutate: func(p *domain.UserTrustProfile) { p.CreatedAt = fixedNow.AddDate(0, 0, -30) },
			want:   52,
		},
		{
			name:   "29 days is not a full month",
			mutate: func(p *domain.UserTrustProfile) { p.CreatedAt = fixedNow.AddDate(0, 0, -29) },
			want:   50,
		},
		{
			name:   "age bonus caps at 15",
			mutate: func(p *domain.UserTrustProfile) { p.CreatedAt = fixedNow.AddDate(-5, 0, 0) },
			want:   65,
		},
		{
			name:   "trade volume caps at 25",
			mutate: func(p *domain.UserTrustProfile) { p.CompletedTrades = 40 },
			want:   75,
		},
		{
			name: "perfect rating adds ten",
			mutate: func(p *domain.UserTrustProfile) {
				p.TotalRatings = 3
				p.AverageRating = 5
			},
			want: 60,
		},
		{
			name: "ratings below neutral never subtract",
			mutate: func(p *domain.UserTrustProfile) {
				p.TotalRatings = 3
				p.AverageRating = 1.5
			},
			want: 50,
		},
		{
			name:   "rating ignored without ratings count",
			mutate: func(p *domain.UserTrustProfile) { p.AverageRating = 5 },
			want:   50,
		},
		{
			name:   "single cancelled trade costs the full cancellation penalty",
			mutate: func(p *domain.UserTrustProfile) { p.CancelledTrades = 1 },
			want:   30,
		},
		{
			name: "cancellation rate is proportional",
			mutate: func(p *domain.UserTrustProfile) {
				p.CompletedTrades = 3
				p.CancelledTrades = 1
			},
			// 50 + 6 - 5
			want: 51,
		},
		{
			name: "violations are weighted by kind",
			mutate: func(p *domain.UserTrustProfile) {
				p.Violations.ByKind[domain.ViolationDamaged] = 1
				p.Violations.ByKind[domain.ViolationCommunicationIssue] = 2
				p.Violations.Total = 3
			},
			want: 32,
		},
		{
			name: "unclassified violations cost five each",
			mutate: func(p *domain.UserTrustProfile) {
				p.Violations.Total = 2
			},
			want: 40,
		},
		{
			name: "score clamps at zero",
			mutate: func(p *domain.UserTrustProfile) {
				p.Violations.ByKind[domain.ViolationFake] = 10
				p.Violations.Total = 10
			},
			want: 0,
		},
		{
			name: "score clamps at one hundred",
			mutate: func(p *domain.UserTrustProfile) {
				p.CreatedAt = fixedNow.AddDate(-3, 0, 0)
				p.CompletedTrades = 100
				p.TotalRatings = 100
				p.AverageRating = 5
			},
			want: 100,
		},
		{
			name:   "future creation time counts as zero age",
			mutate: func(p *domain.UserTrustProfile) { p.CreatedAt = fixedNow.Add(48 * time.Hour) },
			want:   50,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := domain.NewUserTrustProfile("USR-1", fixedNow)
			tc.mutate(p)
			score, err := newTestEngine().Compute(p)
			require.NoError(t, err)
			assert.Equal(t, tc.want, score)
		})
	}
}

func TestCompute_RepeatOffenderWithCleanHistory(t *testing.T) {
	p := domain.NewUserTrustProfile("USR-1", fixedNow.AddDate(-2, 0, 0))
	p.CompletedTrades = 20
	p.TotalRatings = 20
	p.AverageRating = 5
	p.Violations.ByKind[domain.ViolationFake] = 3
	p.Violations.Total = 3

	b, err := newTestEngine().Breakdown(p)
	require.NoError(t, err)
	assert.Equal(t, 15.0, b.AgeBonus)
	assert.Equal(t, 25.0, b.VolumeBonus)
	assert.Equal(t, 10.0, b.RatingBonus)
	assert.Equal(t, 60.0, b.ViolationPenalty)
	assert.Equal(t, 40, b.Score)
}

func TestCompute_DegradedProfiles(t *testing.T) {
	malformed := map[string]*domain.UserTrustProfile{
		"nil profile":       nil,
		"zero creation":     {UserID: "USR-1"},
		"negative trades":   {UserID: "USR-1", CreatedAt: fixedNow, CompletedTrades: -1},
		"rating above five": {UserID: "USR-1", CreatedAt: fixedNow, AverageRating: 7, TotalRatings: 1},
		"nan rating":        {UserID: "USR-1", CreatedAt: fixedNow, AverageRating: math.NaN()},
		"negative kind count": {
			UserID:     "USR-1",
			CreatedAt:  fixedNow,
			Violations: domain.ViolationCounts{ByKind: map[domain.ViolationKind]int{domain.ViolationFake: -2}},
		},
	}

	for name, p := range malformed {
		t.Run(name, func(t *testing.T) {
			score, err := newTestEngine().Compute(p)
			assert.Equal(t, domain.DefaultTrustScore, score)
			assert.True(t, errors.Is(err, domain.ErrDegradedScore), "got %v", err)
		})
	}
}

func TestViolationPenalty_IgnoresUnknownKindsInMap(t *testing.T) {
	v := domain.ViolationCounts{
		ByKind: map[domain.ViolationKind]int{"spam": 1, domain.ViolationNotShipped: 1},
		Total:  2,
	}
	// not_shipped 15, the unknown entry falls into the unclassified remainder.
	assert.Equal(t, 20, ViolationPenalty(v))
}
