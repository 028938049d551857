package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/trust"
)

// ProfileInput is the inbound payload used to register or import a user's
// reputation record. Zero counters describe a brand-new account.
type ProfileInput struct {
	UserID                 string                       `json:"userId"`
	CreatedAt              *time.Time                   `json:"createdAt,omitempty"`
	CompletedTrades        int                          `json:"completedTrades"`
	CancelledTrades        int                          `json:"cancelledTrades"`
	AverageRating          float64                      `json:"averageRating"`
	TotalRatings           int                          `json:"totalRatings"`
	Violations             map[domain.ViolationKind]int `json:"violations,omitempty"`
	UnclassifiedViolations int                          `json:"unclassifiedViolations,omitempty"`
}

// Validate rejects inputs the engine could not score.
func (in ProfileInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return domain.NewValidationError("missing_user_id", "userId", "user id is required")
	}
	if in.CompletedTrades < 0 || in.CancelledTrades < 0 || in.TotalRatings < 0 || in.UnclassifiedViolations < 0 {
		return domain.NewValidationError("negative_counter", "", "counters must not be negative")
	}
	if math.IsNaN(in.AverageRating) || in.AverageRating < 0 || in.AverageRating > 5 {
		return domain.NewValidationError("invalid_rating", "averageRating", "average rating must be within 0..5")
	}
	if in.AverageRating > 0 && in.TotalRatings == 0 {
		return domain.NewValidationError("invalid_rating", "totalRatings", "an average rating needs at least one rating")
	}
	for kind, n := range in.Violations {
		if !kind.Valid() {
			return domain.NewValidationError("unknown_violation_kind", "violations", fmt.Sprintf("unknown violation kind %q", kind))
		}
		if n < 0 {
			return domain.NewValidationError("negative_counter", "violations", fmt.Sprintf("count for %s must not be negative", kind))
		}
	}
	return nil
}

// ToProfile builds the stored profile. now is used when CreatedAt is unset.
func (in ProfileInput) ToProfile(now time.Time) *domain.UserTrustProfile {
	createdAt := now
	if in.CreatedAt != nil {
		createdAt = *in.CreatedAt
	}
	p := domain.NewUserTrustProfile(strings.TrimSpace(in.UserID), createdAt)
	p.CompletedTrades = in.CompletedTrades
	p.CancelledTrades = in.CancelledTrades
	p.AverageRating = in.AverageRating
	p.TotalRatings = in.TotalRatings
	for kind, n := range in.Violations {
		if n == 0 {
			continue
		}
		p.Violations.ByKind[kind] = n
		p.Violations.Total += n
	}
	p.Violations.Total += in.UnclassifiedViolations
	p.UpdatedAt = now.UTC()
	return p
}

// TrustResult is the outcome of one score computation.
type TrustResult struct {
	UserID    string          `json:"userId"`
	Score     int             `json:"trustScore"`
	Degraded  bool            `json:"degraded,omitempty"`
	Breakdown trust.Breakdown `json:"breakdown"`
	ScoredAt  time.Time       `json:"scoredAt"`
}

// TrustReport is the read-only view served to API callers.
type TrustReport struct {
	Profile *domain.UserTrustProfile `json:"profile"`
	Result  TrustResult              `json:"result"`
}
