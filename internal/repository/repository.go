package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/graph"
)

// Repository projects trades, reports and violations into the reputation
// graph and reads counterparty exposure back.
type Repository struct {
	client graph.Client
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client}
}

// UpsertUser mirrors the reputation counters of a profile onto its node.
func (r *Repository) UpsertUser(ctx context.Context, p *domain.UserTrustProfile) error {
	if p == nil || p.UserID == "" {
		return errors.New("user id is required")
	}

	params := map[string]any{
		"userId":          p.UserID,
		"trustScore":      int64(p.TrustScore),
		"completedTrades": int64(p.CompletedTrades),
		"cancelledTrades": int64(p.CancelledTrades),
		"updatedAt":       formatTime(p.UpdatedAt),
	}
	if _, err := r.client.ExecuteWrite(ctx, upsertUserCypher, params); err != nil {
		return fmt.Errorf("upsert user %s: %w", p.UserID, err)
	}
	return nil
}

// ProjectTrade records a trade node and a TRADED_WITH edge in each
// direction between the participants.
func (r *Repository) ProjectTrade(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return errors.New("trade id is required")
	}

	params := map[string]any{
		"tradeId":   t.ID,
		"partyA":    t.PartyA.UserID,
		"partyB":    t.PartyB.UserID,
		"status":    string(t.Status()),
		"updatedAt": formatTime(t.UpdatedAt),
		"props":     tradeProperties(t),
	}
	if _, err := r.client.ExecuteWrite(ctx, projectTradeCypher, params); err != nil {
		return fmt.Errorf("project trade %s: %w", t.ID, err)
	}
	return nil
}

// ProjectReport links the reporter to the reported counterparty.
func (r *Repository) ProjectReport(ctx context.Context, t *domain.Trade, rep domain.Report) error {
	if t == nil || rep.ID == "" {
		return errors.New("trade and report id are required")
	}
	reporter, ok := t.PartyOf(rep.ReportedBy)
	if !ok {
		return fmt.Errorf("report %s: reporter %s is not on trade %s", rep.ID, rep.ReportedBy, t.ID)
	}

	params := map[string]any{
		"reportId":   rep.ID,
		"tradeId":    t.ID,
		"reporterId": rep.ReportedBy,
		"reportedId": t.Participant(reporter.Other()).UserID,
		"reason":     rep.Reason,
		"status":     rep.Status,
		"createdAt":  formatTime(rep.CreatedAt),
	}
	if _, err := r.client.ExecuteWrite(ctx, projectReportCypher, params); err != nil {
		return fmt.Errorf("project report %s: %w", rep.ID, err)
	}
	return nil
}

// ProjectViolation attaches a violation node to the offender.
func (r *Repository) ProjectViolation(ctx context.Context, rec domain.ViolationRecord) error {
	if rec.ID == "" || rec.UserID == "" {
		return errors.New("violation id and user id are required")
	}

	params := map[string]any{
		"violationId": rec.ID,
		"userId":      rec.UserID,
		"kind":        string(rec.Kind),
		"penalty":     int64(rec.Penalty),
		"tradeId":     rec.TradeID,
		"createdAt":   formatTime(rec.CreatedAt),
	}
	if _, err := r.client.ExecuteWrite(ctx, projectViolationCypher, params); err != nil {
		return fmt.Errorf("project violation %s: %w", rec.ID, err)
	}
	return nil
}

// CounterpartyExposure lists everyone userID has traded with, worst
// offenders first.
func (r *Repository) CounterpartyExposure(ctx context.Context, userID string) (domain.CounterpartyExposure, error) {
	if userID == "" {
		return domain.CounterpartyExposure{}, errors.New("user id is required")
	}

	res, err := r.client.ExecuteRead(ctx, counterpartyExposureCypher, map[string]any{"userId": userID})
	if err != nil {
		return domain.CounterpartyExposure{}, fmt.Errorf("counterparty exposure %s: %w", userID, err)
	}

	out := domain.CounterpartyExposure{
		UserID:         userID,
		Counterparties: make([]domain.CounterpartyLink, 0, len(res.Records)),
	}
	for _, rec := range res.Records {
		out.Counterparties = append(out.Counterparties, domain.CounterpartyLink{
			UserID:          toString(rec["userId"]),
			TrustScore:      toInt(rec["trustScore"]),
			Trades:          toInt(rec["trades"]),
			ViolationTotal:  toInt(rec["violationTotal"]),
			ViolationPoints: toInt(rec["violationPoints"]),
			ReportsAgainst:  toInt(rec["reportsAgainst"]),
			LastTradedAt:    toTimePtr(rec["lastTradedAt"]),
		})
	}
	return out, nil
}

func tradeProperties(t *domain.Trade) map[string]any {
	return map[string]any{
		"status":    string(t.Status()),
		"riskLevel": t.Security.RiskLevel.String(),
		"degraded":  t.Security.Degraded,
		"createdAt": formatTime(t.CreatedAt),
		"updatedAt": formatTime(t.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toInt(val any) int {
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
	}
	return nil
}

const upsertUserCypher = `
MERGE (u:User {userId: $userId})
SET u.trustScore = $trustScore,
	u.completedTrades = $completedTrades,
	u.cancelledTrades = $cancelledTrades,
	u.updatedAt = $updatedAt
RETURN u.userId AS userId
`

const projectTradeCypher = `
MERGE (a:User {userId: $partyA})
MERGE (b:User {userId: $partyB})
MERGE (t:Trade {tradeId: $tradeId})
SET t += $props
MERGE (a)-[pa:PARTICIPATED_IN {tradeId: $tradeId}]->(t)
SET pa.side = "partyA"
MERGE (b)-[pb:PARTICIPATED_IN {tradeId: $tradeId}]->(t)
SET pb.side = "partyB"
MERGE (a)-[ab:TRADED_WITH {tradeId: $tradeId}]->(b)
SET ab.status = $status,
	ab.tradedAt = $updatedAt
MERGE (b)-[ba:TRADED_WITH {tradeId: $tradeId}]->(a)
SET ba.status = $status,
	ba.tradedAt = $updatedAt
RETURN t.tradeId AS tradeId
`

const projectReportCypher = `
MERGE (reporter:User {userId: $reporterId})
MERGE (reported:User {userId: $reportedId})
MERGE (reporter)-[r:REPORTED {reportId: $reportId}]->(reported)
SET r.tradeId = $tradeId,
	r.reason = $reason,
	r.status = $status,
	r.createdAt = $createdAt
RETURN r.reportId AS reportId
`

const projectViolationCypher = `
MERGE (u:User {userId: $userId})
MERGE (v:Violation {violationId: $violationId})
SET v.kind = $kind,
	v.penalty = $penalty,
	v.tradeId = $tradeId,
	v.createdAt = $createdAt
MERGE (u)-[:COMMITTED]->(v)
RETURN v.violationId AS violationId
`

const counterpartyExposureCypher = `
MATCH (u:User {userId: $userId})-[tw:TRADED_WITH]->(peer:User)
WITH peer, count(tw) AS trades, max(tw.tradedAt) AS lastTradedAt
OPTIONAL MATCH (peer)-[:COMMITTED]->(v:Violation)
WITH peer, trades, lastTradedAt, count(v) AS violationTotal, coalesce(sum(v.penalty), 0) AS violationPoints
OPTIONAL MATCH (:User)-[rep:REPORTED]->(peer)
WHERE rep.status <> "dismissed"
RETURN peer.userId AS userId,
       coalesce(peer.trustScore, 50) AS trustScore,
       trades,
       lastTradedAt,
       violationTotal,
       violationPoints,
       count(rep) AS reportsAgainst
ORDER BY violationPoints DESC, userId
`
