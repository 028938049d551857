// Package trust derives a user's 0-100 trust score from their trading
// history. Scores are recomputed on demand; nothing here writes state.
package trust

import (
	"fmt"
	"math"
	"time"

	"github.com/vanshika/swapguard/internal/domain"
)

const (
	baseScore           = 50.0
	agePointsPerMonth   = 2
	ageBonusCap         = 15
	daysPerMonth        = 30
	tradePoints         = 2
	tradeBonusCap       = 25
	neutralRating       = 3.0
	ratingPointsPerStar = 5.0
	cancellationPenalty = 20.0
	minScore            = 0.0
	maxScore            = 100.0
	maxAverageRating    = 5.0
	hoursPerDay         = 24
)

// Breakdown itemizes how a score was reached.
type Breakdown struct {
	Base                float64 `json:"base"`
	AgeBonus            float64 `json:"ageBonus"`
	VolumeBonus         float64 `json:"volumeBonus"`
	RatingBonus         float64 `json:"ratingBonus"`
	ViolationPenalty    float64 `json:"violationPenalty"`
	CancellationPenalty float64 `json:"cancellationPenalty"`
	Raw                 float64 `json:"raw"`
	Score               int     `json:"score"`
}

// Engine computes trust scores. The zero value is not usable; call NewEngine.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine reading the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// WithClock overrides the time source used for account age.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Compute returns the clamped, rounded score for p. A missing or malformed
// profile yields domain.DefaultTrustScore together with an error wrapping
// domain.ErrDegradedScore; the score is still safe to use.
func (e *Engine) Compute(p *domain.UserTrustProfile) (int, error) {
	b, err := e.Breakdown(p)
	if err != nil {
		return domain.DefaultTrustScore, err
	}
	return b.Score, nil
}

// Breakdown computes the score and its components.
func (e *Engine) Breakdown(p *domain.UserTrustProfile) (Breakdown, error) {
	if err := checkProfile(p); err != nil {
		return Breakdown{Base: baseScore, Raw: baseScore, Score: domain.DefaultTrustScore}, err
	}

	b := Breakdown{Base: baseScore}

	ageDays := 0
	if now := e.now(); now.After(p.CreatedAt) {
		ageDays = int(now.Sub(p.CreatedAt).Hours() / hoursPerDay)
	}
	b.AgeBonus = float64(min(ageBonusCap, (ageDays/daysPerMonth)*agePointsPerMonth))
	b.VolumeBonus = float64(min(tradeBonusCap, p.CompletedTrades*tradePoints))

	if p.TotalRatings > 0 {
		b.RatingBonus = math.Max(0, (p.AverageRating-neutralRating)*ratingPointsPerStar)
	}

	b.ViolationPenalty = float64(ViolationPenalty(p.Violations))

	if finished := p.CompletedTrades + p.CancelledTrades; finished > 0 {
		rate := float64(p.CancelledTrades) / float64(finished)
		b.CancellationPenalty = rate * cancellationPenalty
	}

	b.Raw = b.Base + b.AgeBonus + b.VolumeBonus + b.RatingBonus - b.ViolationPenalty - b.CancellationPenalty
	b.Score = int(math.Round(math.Min(maxScore, math.Max(minScore, b.Raw))))
	return b, nil
}

// ViolationPenalty sums the weighted penalty of every counted violation.
// Counts in the total that carry no known kind cost the unclassified rate.
func ViolationPenalty(v domain.ViolationCounts) int {
	penalty := 0
	classified := 0
	for kind, count := range v.ByKind {
		if !kind.Valid() || count <= 0 {
			continue
		}
		penalty += count * kind.Penalty()
		classified += count
	}
	if rest := v.Total - classified; rest > 0 {
		penalty += rest * domain.UnclassifiedViolationPenalty
	}
	return penalty
}

func checkProfile(p *domain.UserTrustProfile) error {
	if p == nil {
		return fmt.Errorf("%w: profile is missing", domain.ErrDegradedScore)
	}
	switch {
	case p.CreatedAt.IsZero():
		return fmt.Errorf("%w: user %s has no creation time", domain.ErrDegradedScore, p.UserID)
	case p.CompletedTrades < 0, p.CancelledTrades < 0, p.TotalRatings < 0, p.Violations.Total < 0:
		return fmt.Errorf("%w: user %s has negative counters", domain.ErrDegradedScore, p.UserID)
	case math.IsNaN(p.AverageRating), p.AverageRating < 0, p.AverageRating > maxAverageRating:
		return fmt.Errorf("%w: user %s has average rating %v", domain.ErrDegradedScore, p.UserID, p.AverageRating)
	}
	for kind, count := range p.Violations.ByKind {
		if count < 0 {
			return fmt.Errorf("%w: user %s has negative %s count", domain.ErrDegradedScore, p.UserID, kind)
		}
	}
	return nil
}
