package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vanshika/swapguard/internal/config"
	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/graph"
	"github.com/vanshika/swapguard/internal/ledger"
	"github.com/vanshika/swapguard/internal/lock"
	"github.com/vanshika/swapguard/internal/repository"
	"github.com/vanshika/swapguard/internal/service"
	"github.com/vanshika/swapguard/internal/store"
	"github.com/vanshika/swapguard/internal/trade"
)

type testAPI struct {
	handler http.Handler
	store   *store.MemoryStore
	graph   *graph.MemoryClient
}

func newTestAPI(t *testing.T, deps RouterDependencies) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore()
	client := graph.NewMemoryClient()
	repo := repository.New(client)

	trustSvc := service.NewTrustService(st, nil, logger).WithGraph(repo)
	violations := ledger.New(st, logger).WithGraph(repo)
	trades := trade.NewService(st, trustSvc, violations, lock.NewKeyedMutex(), logger).WithGraph(repo)

	deps.API = NewAPIHandlers(logger, trades, trustSvc, violations, repo)
	return &testAPI{handler: NewRouter(logger, deps), store: st, graph: client}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(t *testing.T, userID string, yearsActive, completed int) {
	t.Helper()
	joined := time.Now().AddDate(-yearsActive, 0, -1)
	rec := a.do(t, http.MethodPost, "/users", service.ProfileInput{
		UserID:          userID,
		CreatedAt:       &joined,
		CompletedTrades: completed,
		AverageRating:   5,
		TotalRatings:    completed,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", userID, rec.Code, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

type tradePayload struct {
	ID       string          `json:"id"`
	Status   domain.Status   `json:"status"`
	Security domain.Security `json:"security"`
	Deadline string          `json:"deliveryDeadline"`
	Advice   string          `json:"recommendation"`
}

func TestTradeLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{})
	api.register(t, "USR-A", 2, 20)
	api.register(t, "USR-B", 2, 20)

	rec := api.do(t, http.MethodPost, "/trades", trade.CreateInput{
		PartyA: domain.Participant{UserID: "USR-A", Items: []string{"bike"}},
		PartyB: domain.Participant{UserID: "USR-B", Items: []string{"guitar"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[tradePayload](t, rec)
	if created.Security.RiskLevel != domain.LowRisk {
		t.Fatalf("expected LOW_RISK, got %s", created.Security.RiskLevel)
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}
	if created.Deadline == "" || created.Advice == "" {
		t.Fatalf("expected deadline and recommendation, got %+v", created)
	}

	base := "/trades/" + created.ID
	steps := []struct {
		path string
		body any
	}{
		{"/shipment", trade.ShipmentInput{UserID: "USR-A"}},
		{"/shipment", trade.ShipmentInput{UserID: "USR-B"}},
		{"/delivery", trade.DeliveryInput{UserID: "USR-A", Rating: 5}},
		{"/delivery", trade.DeliveryInput{UserID: "USR-B", Rating: 4}},
	}
	for _, step := range steps {
		rec = api.do(t, http.MethodPost, base+step.path, step.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d: %s", step.path, rec.Code, rec.Body.String())
		}
	}

	rec = api.do(t, http.MethodGet, base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	final := decodeBody[tradePayload](t, rec)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if len(final.Security.Timeline) != 6 {
		t.Fatalf("expected 6 timeline entries, got %d", len(final.Security.Timeline))
	}
	if err := trade.VerifyTimeline(final.Security.Timeline); err != nil {
		t.Fatalf("timeline did not verify after a JSON round trip: %v", err)
	}

	p, err := api.store.GetProfile(context.Background(), "USR-A")
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}
	if p.CompletedTrades != 21 {
		t.Fatalf("expected 21 completed trades, got %d", p.CompletedTrades)
	}

	rec = api.do(t, http.MethodGet, "/users/USR-A/trades", nil)
	list := decodeBody[struct {
		Trades []tradePayload `json:"trades"`
	}](t, rec)
	if len(list.Trades) != 1 || list.Trades[0].ID != created.ID {
		t.Fatalf("expected the trade in USR-A's list, got %+v", list.Trades)
	}
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{})
	api.register(t, "USR-A", 2, 20)
	api.register(t, "USR-B", 2, 20)

	rec := api.do(t, http.MethodPost, "/trades", trade.CreateInput{
		PartyA: domain.Participant{UserID: "USR-A", Items: []string{"bike"}},
		PartyB: domain.Participant{UserID: "USR-B", Items: []string{"guitar"}},
	})
	created := decodeBody[tradePayload](t, rec)
	base := "/trades/" + created.ID

	if rec = api.do(t, http.MethodPost, base+"/shipment", trade.ShipmentInput{UserID: "USR-A"}); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"duplicate step", http.MethodPost, base + "/shipment", trade.ShipmentInput{UserID: "USR-A"}, http.StatusConflict, "duplicate_step"},
		{"gate not met", http.MethodPost, base + "/delivery", trade.DeliveryInput{UserID: "USR-A", Rating: 5}, http.StatusConflict, "counterparty_not_shipped"},
		{"bad rating", http.MethodPost, base + "/delivery", trade.DeliveryInput{UserID: "USR-B", Rating: 9}, http.StatusBadRequest, "invalid_rating"},
		{"outsider", http.MethodPost, base + "/shipment", trade.ShipmentInput{UserID: "USR-C"}, http.StatusBadRequest, "not_a_participant"},
		{"missing trade", http.MethodGet, "/trades/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown user", http.MethodGet, "/users/ghost/trust", nil, http.StatusNotFound, "not_found"},
		{"unknown field", http.MethodPost, base + "/cancel", map[string]string{"who": "USR-A"}, http.StatusBadRequest, ""},
		{"photos not required", http.MethodPost, base + "/photos", trade.PhotosInput{UserID: "USR-B", Photos: []string{"blob://1"}}, http.StatusBadRequest, "photos_not_required"},
		{"cancel after shipment", http.MethodPost, base + "/cancel", trade.CancelInput{UserID: "USR-B"}, http.StatusConflict, "already_shipped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			payload := decodeBody[errorResponse](t, rec)
			if payload.Code != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, payload.Code)
			}
		})
	}

	rec = api.do(t, http.MethodPost, base+"/delivery", trade.DeliveryInput{UserID: "USR-A", Rating: 5})
	payload := decodeBody[errorResponse](t, rec)
	if payload.Flag != "shippingConfirmed" || payload.Party != string(domain.PartyB) {
		t.Fatalf("expected the blocking gate to be named, got %+v", payload)
	}
}

func TestReportAndResolveOverHTTP(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{})
	api.register(t, "USR-A", 2, 20)
	api.register(t, "USR-B", 2, 20)

	created := decodeBody[tradePayload](t, api.do(t, http.MethodPost, "/trades", trade.CreateInput{
		PartyA: domain.Participant{UserID: "USR-A", Items: []string{"bike"}},
		PartyB: domain.Participant{UserID: "USR-B", Items: []string{"guitar"}},
	}))

	rec := api.do(t, http.MethodPost, "/trades/"+created.ID+"/reports", trade.ReportInput{
		UserID:      "USR-A",
		Reason:      "wrong_item",
		Description: "received a ukulele",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	reported := decodeBody[reportResponse](t, rec)

	rec = api.do(t, http.MethodPost, "/trades/"+created.ID+"/reports/"+reported.Report.ID+"/resolve",
		trade.ResolveInput{Outcome: domain.ReportStatusUpheld})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/users/USR-B/violations", nil)
	list := decodeBody[violationListResponse](t, rec)
	if len(list.Violations) != 1 || list.Violations[0].Kind != domain.ViolationWrongItem {
		t.Fatalf("expected one wrong_item violation for USR-B, got %+v", list.Violations)
	}
}

func TestViolationEndpoints(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{})
	api.register(t, "USR-A", 1, 5)

	rec := api.do(t, http.MethodPost, "/users/USR-A/violations", violationRequest{Kind: domain.ViolationFake, Description: "counterfeit"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[violationResponse](t, rec)
	if created.PenaltyPoints != 20 {
		t.Fatalf("expected 20 penalty points, got %d", created.PenaltyPoints)
	}

	rec = api.do(t, http.MethodPost, "/users/USR-A/violations", violationRequest{Kind: "rude"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	rec = api.do(t, http.MethodGet, "/users/USR-A/violations", nil)
	list := decodeBody[violationListResponse](t, rec)
	if len(list.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(list.Violations))
	}

	rec = api.do(t, http.MethodGet, "/users/USR-A/trust?refresh=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	result := decodeBody[service.TrustResult](t, rec)
	if result.Breakdown.ViolationPenalty != 20 {
		t.Fatalf("expected a 20 point violation penalty, got %+v", result.Breakdown)
	}
}

func TestExposureEndpoint(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{})
	api.graph.RespondWith(func(q graph.ExecutedQuery) (graph.Result, error) {
		if q.Write {
			return graph.Result{}, nil
		}
		return graph.Result{Records: []graph.Record{
			{"userId": "USR-B", "trustScore": int64(82), "trades": int64(3), "violationTotal": int64(0)},
			{"userId": "USR-C", "trustScore": int64(35), "trades": int64(1), "violationTotal": int64(2), "violationPoints": int64(35)},
		}}, nil
	})

	rec := api.do(t, http.MethodGet, "/users/USR-A/exposure", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody[exposureResponse](t, rec)
	if len(payload.Counterparties) != 2 {
		t.Fatalf("expected 2 counterparties, got %d", len(payload.Counterparties))
	}
	if len(payload.Flagged) != 1 || payload.Flagged[0].UserID != "USR-C" {
		t.Fatalf("expected USR-C flagged, got %+v", payload.Flagged)
	}
}

func TestExposureWithoutGraph(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewAPIHandlers(logger, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/users/USR-A/exposure", nil)
	req.SetPathValue("id", "USR-A")
	rec := httptest.NewRecorder()

	handlers.getExposure(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	st := store.NewMemoryStore()
	healthy := newTestAPI(t, RouterDependencies{Health: HealthChecks{StoreHealthService{Store: st}}})
	if rec := healthy.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	broken := graph.NewMemoryClient().WithConnectivityError(errors.New("bolt unreachable"))
	degraded := newTestAPI(t, RouterDependencies{Health: HealthChecks{
		StoreHealthService{Store: st},
		GraphHealthService{Client: broken},
	}})
	rec := degraded.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bolt unreachable") {
		t.Fatalf("expected probe error in body, got %s", rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{RateLimit: config.RateLimitConfig{RPS: 1, Burst: 1}})

	if rec := api.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	rec := api.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{})

	rec := api.do(t, http.MethodGet, "/healthz", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("expected caller id to be echoed, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, RouterDependencies{AllowedOrigins: ParseOrigins(" https://app.example , ")})

	req := httptest.NewRequest(http.MethodOptions, "/trades", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/trades", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}
}
