package domain

import "time"

// CounterpartyLink summarizes one user a given user has traded with.
type CounterpartyLink struct {
	UserID          string     `json:"userId"`
	TrustScore      int        `json:"trustScore"`
	Trades          int        `json:"trades"`
	ViolationTotal  int        `json:"violationTotal"`
	ViolationPoints int        `json:"violationPoints"`
	ReportsAgainst  int        `json:"reportsAgainst"`
	LastTradedAt    *time.Time `json:"lastTradedAt,omitempty"`
}

// CounterpartyExposure is the reputation neighbourhood of a user, read from
// the graph projection.
type CounterpartyExposure struct {
	UserID         string             `json:"userId"`
	Counterparties []CounterpartyLink `json:"counterparties"`
}

// Flagged returns the counterparties with at least one recorded violation.
func (e CounterpartyExposure) Flagged() []CounterpartyLink {
	var out []CounterpartyLink
	for _, c := range e.Counterparties {
		if c.ViolationTotal > 0 {
			out = append(out, c)
		}
	}
	return out
}
