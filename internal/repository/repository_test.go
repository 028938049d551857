package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/graph"
)

func completedTrade(now time.Time) *domain.Trade {
	t := &domain.Trade{
		ID:     "TRD-001",
		PartyA: domain.Participant{UserID: "USR-A", Items: []string{"bike"}},
		PartyB: domain.Participant{UserID: "USR-B", Items: []string{"guitar"}},
		Security: domain.Security{
			RiskLevel:   domain.LowRisk,
			Constraints: domain.Constraints{MaxDeliveryDays: 14},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.Security.Steps.ShippingConfirmed = domain.PartyFlags{PartyA: true, PartyB: true}
	t.Security.Steps.DeliveryConfirmed = domain.PartyFlags{PartyA: true, PartyB: true}
	return t
}

func TestRepository_UpsertUser(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := New(mem)

	now := time.Now().UTC()
	p := domain.NewUserTrustProfile("USR-001", now)
	p.CompletedTrades = 12
	p.TrustScore = 83

	if err := repo.UpsertUser(context.Background(), p); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	calls := mem.WriteCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write query, got %d", len(calls))
	}
	if calls[0].Query != upsertUserCypher {
		t.Fatalf("unexpected query\nexpected:\n%s\ngot:\n%s", upsertUserCypher, calls[0].Query)
	}
	if calls[0].Params["trustScore"] != int64(83) {
		t.Errorf("trustScore mismatch: got %v", calls[0].Params["trustScore"])
	}
	if calls[0].Params["completedTrades"] != int64(12) {
		t.Errorf("completedTrades mismatch: got %v", calls[0].Params["completedTrades"])
	}
}

func TestRepository_UpsertUserRequiresID(t *testing.T) {
	repo := New(graph.NewMemoryClient())
	if err := repo.UpsertUser(context.Background(), &domain.UserTrustProfile{}); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestRepository_ProjectTrade(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := New(mem)
	trade := completedTrade(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	if err := repo.ProjectTrade(context.Background(), trade); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	calls := mem.WriteCalls()
	if len(calls) != 1 || calls[0].Query != projectTradeCypher {
		t.Fatalf("expected one trade projection, got %+v", calls)
	}
	params := calls[0].Params
	if params["partyA"] != "USR-A" || params["partyB"] != "USR-B" {
		t.Errorf("participants mismatch: %v / %v", params["partyA"], params["partyB"])
	}
	if params["status"] != string(domain.StatusCompleted) {
		t.Errorf("expected completed status, got %v", params["status"])
	}
	props, ok := params["props"].(map[string]any)
	if !ok {
		t.Fatalf("expected props map, got %T", params["props"])
	}
	if props["riskLevel"] != "LOW_RISK" {
		t.Errorf("riskLevel mismatch: got %v", props["riskLevel"])
	}
	if params["updatedAt"] != "2026-05-01T09:00:00Z" {
		t.Errorf("updatedAt mismatch: got %v", params["updatedAt"])
	}
}

func TestRepository_ProjectReportTargetsCounterparty(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := New(mem)
	trade := completedTrade(time.Now().UTC())
	rep := domain.Report{ID: "RPT-1", ReportedBy: "USR-B", Reason: "wrong_item", Status: domain.ReportStatusPending}

	if err := repo.ProjectReport(context.Background(), trade, rep); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	params := mem.WriteCalls()[0].Params
	if params["reporterId"] != "USR-B" || params["reportedId"] != "USR-A" {
		t.Errorf("expected USR-B -> USR-A, got %v -> %v", params["reporterId"], params["reportedId"])
	}

	outsider := domain.Report{ID: "RPT-2", ReportedBy: "USR-Z"}
	if err := repo.ProjectReport(context.Background(), trade, outsider); err == nil {
		t.Fatal("expected error for reporter outside the trade")
	}
}

func TestRepository_ProjectViolation(t *testing.T) {
	mem := graph.NewMemoryClient()
	repo := New(mem)
	rec := domain.ViolationRecord{
		ID:        "VIO-1",
		UserID:    "USR-A",
		Kind:      domain.ViolationNotShipped,
		Penalty:   15,
		CreatedAt: time.Now().UTC(),
	}

	if err := repo.ProjectViolation(context.Background(), rec); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	params := mem.WriteCalls()[0].Params
	if params["kind"] != "not_shipped" || params["penalty"] != int64(15) {
		t.Errorf("unexpected params %+v", params)
	}
}

func TestRepository_CounterpartyExposure(t *testing.T) {
	traded := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	mem := graph.NewMemoryClient().RespondWith(func(q graph.ExecutedQuery) (graph.Result, error) {
		if q.Query != counterpartyExposureCypher {
			return graph.Result{}, nil
		}
		return graph.Result{Records: []graph.Record{
			{
				"userId":          "USR-B",
				"trustScore":      int64(34),
				"trades":          int64(2),
				"lastTradedAt":    traded.Format(time.RFC3339Nano),
				"violationTotal":  int64(2),
				"violationPoints": int64(35),
				"reportsAgainst":  int64(1),
			},
			{
				"userId":          "USR-C",
				"trustScore":      int64(77),
				"trades":          int64(1),
				"violationTotal":  int64(0),
				"violationPoints": int64(0),
				"reportsAgainst":  int64(0),
			},
		}}, nil
	})
	repo := New(mem)

	exp, err := repo.CounterpartyExposure(context.Background(), "USR-A")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(exp.Counterparties) != 2 {
		t.Fatalf("expected 2 counterparties, got %d", len(exp.Counterparties))
	}
	first := exp.Counterparties[0]
	if first.UserID != "USR-B" || first.ViolationPoints != 35 || first.ReportsAgainst != 1 {
		t.Errorf("unexpected first counterparty %+v", first)
	}
	if first.LastTradedAt == nil || !first.LastTradedAt.Equal(traded) {
		t.Errorf("lastTradedAt mismatch: %v", first.LastTradedAt)
	}
	if flagged := exp.Flagged(); len(flagged) != 1 || flagged[0].UserID != "USR-B" {
		t.Errorf("expected only USR-B flagged, got %+v", flagged)
	}

	reads := mem.ReadCalls()
	if len(reads) != 1 || reads[0].Params["userId"] != "USR-A" {
		t.Fatalf("unexpected read calls %+v", reads)
	}
}

func TestRepository_PropagatesClientErrors(t *testing.T) {
	boom := errors.New("bolt down")
	repo := New(graph.NewMemoryClient().WithError(boom))

	if err := repo.ProjectTrade(context.Background(), completedTrade(time.Now())); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
	if _, err := repo.CounterpartyExposure(context.Background(), "USR-A"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}
