package domain

import "time"

// DefaultTrustScore is assigned to new accounts and returned when a score
// cannot be computed.
const DefaultTrustScore = 50

// ViolationKind classifies penalized trade behaviour.
type ViolationKind string

const (
	ViolationNotShipped         ViolationKind = "not_shipped"
	ViolationWrongItem          ViolationKind = "wrong_item"
	ViolationDamaged            ViolationKind = "damaged"
	ViolationFake               ViolationKind = "fake"
	ViolationCommunicationIssue ViolationKind = "communication_issue"
)

// ViolationKinds lists every known kind in a stable order.
var ViolationKinds = []ViolationKind{
	ViolationNotShipped,
	ViolationWrongItem,
	ViolationDamaged,
	ViolationFake,
	ViolationCommunicationIssue,
}

// Valid reports whether k is one of the known kinds.
func (k ViolationKind) Valid() bool {
	for _, known := range ViolationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// UnclassifiedViolationPenalty applies to counted violations with no known
// kind, such as totals imported from older records.
const UnclassifiedViolationPenalty = 5

var violationPenalties = map[ViolationKind]int{
	ViolationNotShipped:         15,
	ViolationWrongItem:          10,
	ViolationDamaged:            8,
	ViolationFake:               20,
	ViolationCommunicationIssue: 5,
}

// Penalty returns the trust points one violation of kind k costs.
func (k ViolationKind) Penalty() int {
	if p, ok := violationPenalties[k]; ok {
		return p
	}
	return UnclassifiedViolationPenalty
}

// ViolationCounts holds per-kind counters plus the running total.
type ViolationCounts struct {
	ByKind map[ViolationKind]int `json:"byKind"`
	Total  int                   `json:"total"`
}

// Count returns the number of violations of kind k.
func (v ViolationCounts) Count(k ViolationKind) int {
	if v.ByKind == nil {
		return 0
	}
	return v.ByKind[k]
}

// UserTrustProfile is the reputation slice of a user record.
type UserTrustProfile struct {
	UserID          string          `json:"userId"`
	CreatedAt       time.Time       `json:"createdAt"`
	CompletedTrades int             `json:"completedTrades"`
	CancelledTrades int             `json:"cancelledTrades"`
	AverageRating   float64         `json:"averageRating"`
	TotalRatings    int             `json:"totalRatings"`
	Violations      ViolationCounts `json:"violations"`
	TrustScore      int             `json:"trustScore"`
	LastScoredAt    *time.Time      `json:"lastScoredAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	// SettledTrades holds the most recent completed trade IDs folded into
	// the counters, newest last, so a replayed completion is a no-op.
	SettledTrades []string `json:"settledTrades,omitempty"`
}

// MaxSettledTrades bounds SettledTrades. A replay only happens for a trade
// whose settlement was just interrupted, so a short window is enough.
const MaxSettledTrades = 64

// NewUserTrustProfile returns a profile in its account-creation state.
func NewUserTrustProfile(userID string, createdAt time.Time) *UserTrustProfile {
	return &UserTrustProfile{
		UserID:     userID,
		CreatedAt:  createdAt.UTC(),
		Violations: ViolationCounts{ByKind: map[ViolationKind]int{}},
		TrustScore: DefaultTrustScore,
		UpdatedAt:  createdAt.UTC(),
	}
}

// Clone returns a deep copy so callers can mutate without sharing maps.
func (p *UserTrustProfile) Clone() *UserTrustProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Violations.ByKind = make(map[ViolationKind]int, len(p.Violations.ByKind))
	for k, v := range p.Violations.ByKind {
		out.Violations.ByKind[k] = v
	}
	if p.LastScoredAt != nil {
		ts := *p.LastScoredAt
		out.LastScoredAt = &ts
	}
	if p.SettledTrades != nil {
		out.SettledTrades = append([]string(nil), p.SettledTrades...)
	}
	return &out
}

// HasSettled reports whether tradeID is already in the settled window.
func (p *UserTrustProfile) HasSettled(tradeID string) bool {
	for _, id := range p.SettledTrades {
		if id == tradeID {
			return true
		}
	}
	return false
}

// MarkSettled appends tradeID to the settled window, dropping the oldest
// entries beyond MaxSettledTrades.
func (p *UserTrustProfile) MarkSettled(tradeID string) {
	p.SettledTrades = append(p.SettledTrades, tradeID)
	if n := len(p.SettledTrades); n > MaxSettledTrades {
		p.SettledTrades = append([]string(nil), p.SettledTrades[n-MaxSettledTrades:]...)
	}
}

// AddRating folds a received rating into the running average.
func (p *UserTrustProfile) AddRating(score int) {
	total := p.AverageRating*float64(p.TotalRatings) + float64(score)
	p.TotalRatings++
	p.AverageRating = total / float64(p.TotalRatings)
}

// ViolationRecord is one ledger entry.
type ViolationRecord struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Kind        ViolationKind `json:"kind"`
	Description string        `json:"description"`
	Penalty     int           `json:"penalty"`
	TradeID     string        `json:"tradeId,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}
