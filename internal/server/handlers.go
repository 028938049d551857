package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/ledger"
	"github.com/vanshika/swapguard/internal/risk"
	"github.com/vanshika/swapguard/internal/service"
	"github.com/vanshika/swapguard/internal/trade"
)

// ExposureSource answers counterparty exposure queries.
type ExposureSource interface {
	CounterpartyExposure(ctx context.Context, userID string) (domain.CounterpartyExposure, error)
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger   *slog.Logger
	trades   *trade.Service
	trust    *service.TrustService
	ledger   *ledger.Ledger
	exposure ExposureSource
}

// NewAPIHandlers constructs an APIHandlers instance. exposure may be nil
// when no reputation graph is configured.
func NewAPIHandlers(logger *slog.Logger, trades *trade.Service, trust *service.TrustService, l *ledger.Ledger, exposure ExposureSource) *APIHandlers {
	return &APIHandlers{
		logger:   logger,
		trades:   trades,
		trust:    trust,
		ledger:   l,
		exposure: exposure,
	}
}

func (h *APIHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /trades", h.createTrade)
	mux.HandleFunc("GET /trades/{id}", h.getTrade)
	mux.HandleFunc("POST /trades/{id}/photos", h.submitPhotos)
	mux.HandleFunc("POST /trades/{id}/shipment", h.confirmShipment)
	mux.HandleFunc("POST /trades/{id}/delivery", h.confirmDelivery)
	mux.HandleFunc("POST /trades/{id}/reports", h.reportProblem)
	mux.HandleFunc("POST /trades/{id}/reports/{reportId}/resolve", h.resolveReport)
	mux.HandleFunc("POST /trades/{id}/cancel", h.cancelTrade)
	mux.HandleFunc("POST /trades/{id}/dispute", h.disputeTrade)

	mux.HandleFunc("POST /users", h.registerUser)
	mux.HandleFunc("GET /users/{id}/trust", h.getTrust)
	mux.HandleFunc("GET /users/{id}/trades", h.listTrades)
	mux.HandleFunc("POST /users/{id}/violations", h.recordViolation)
	mux.HandleFunc("GET /users/{id}/violations", h.listViolations)
	mux.HandleFunc("GET /users/{id}/exposure", h.getExposure)
}

type tradeResponse struct {
	*domain.Trade
	Status           domain.Status `json:"status"`
	DeliveryDeadline string        `json:"deliveryDeadline"`
	Recommendation   string        `json:"recommendation"`
}

func newTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		Trade:            t,
		Status:           t.Status(),
		DeliveryDeadline: formatTime(t.DeliveryDeadline()),
		Recommendation:   risk.ForLevel(t.Security.RiskLevel).Recommendation,
	}
}

type reportResponse struct {
	Trade  tradeResponse `json:"trade"`
	Report domain.Report `json:"report"`
}

type violationRequest struct {
	Kind        domain.ViolationKind `json:"kind"`
	Description string               `json:"description"`
	TradeID     string               `json:"tradeId,omitempty"`
}

type violationResponse struct {
	Violation     domain.ViolationRecord `json:"violation"`
	PenaltyPoints int                    `json:"penaltyPoints"`
}

type violationListResponse struct {
	UserID     string                   `json:"userId"`
	Violations []domain.ViolationRecord `json:"violations"`
}

type tradeListResponse struct {
	UserID string          `json:"userId"`
	Trades []tradeResponse `json:"trades"`
}

type exposureResponse struct {
	domain.CounterpartyExposure
	Flagged []domain.CounterpartyLink `json:"flagged"`
}

func (h *APIHandlers) createTrade(w http.ResponseWriter, r *http.Request) {
	var payload trade.CreateInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.trades.CreateTrade(r.Context(), payload)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to create trade")
		return
	}
	respondJSON(w, http.StatusCreated, newTradeResponse(t))
}

func (h *APIHandlers) getTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.trades.GetTrade(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "failed to load trade")
		return
	}
	respondJSON(w, http.StatusOK, newTradeResponse(t))
}

func (h *APIHandlers) submitPhotos(w http.ResponseWriter, r *http.Request) {
	var payload trade.PhotosInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.trades.SubmitPhotos(r.Context(), r.PathValue("id"), payload)
	h.respondTrade(w, r, t, err, "failed to submit photos")
}

func (h *APIHandlers) confirmShipment(w http.ResponseWriter, r *http.Request) {
	var payload trade.ShipmentInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.trades.ConfirmShipment(r.Context(), r.PathValue("id"), payload)
	h.respondTrade(w, r, t, err, "failed to confirm shipment")
}

func (h *APIHandlers) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	var payload trade.DeliveryInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.trades.ConfirmDelivery(r.Context(), r.PathValue("id"), payload)
	h.respondTrade(w, r, t, err, "failed to confirm delivery")
}

func (h *APIHandlers) cancelTrade(w http.ResponseWriter, r *http.Request) {
	var payload trade.CancelInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.trades.Cancel(r.Context(), r.PathValue("id"), payload)
	h.respondTrade(w, r, t, err, "failed to cancel trade")
}

func (h *APIHandlers) disputeTrade(w http.ResponseWriter, r *http.Request) {
	var payload trade.DisputeInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.trades.MarkDisputed(r.Context(), r.PathValue("id"), payload)
	h.respondTrade(w, r, t, err, "failed to dispute trade")
}

func (h *APIHandlers) reportProblem(w http.ResponseWriter, r *http.Request) {
	var payload trade.ReportInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, rep, err := h.trades.ReportProblem(r.Context(), r.PathValue("id"), payload)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to report problem")
		return
	}
	respondJSON(w, http.StatusCreated, reportResponse{Trade: newTradeResponse(t), Report: rep})
}

func (h *APIHandlers) resolveReport(w http.ResponseWriter, r *http.Request) {
	var payload trade.ResolveInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, rep, err := h.trades.ResolveReport(r.Context(), r.PathValue("id"), r.PathValue("reportId"), payload)
	if err != nil && t == nil {
		h.writeServiceError(w, r, err, "failed to resolve report")
		return
	}
	if err != nil {
		// The resolution is stored; only the follow-up violation failed.
		h.logger.Error("violation for upheld report not recorded", "error", err, "tradeId", t.ID, "reportId", rep.ID)
	}
	respondJSON(w, http.StatusOK, reportResponse{Trade: newTradeResponse(t), Report: rep})
}

func (h *APIHandlers) respondTrade(w http.ResponseWriter, r *http.Request, t *domain.Trade, err error, msg string) {
	if err != nil {
		h.writeServiceError(w, r, err, msg)
		return
	}
	respondJSON(w, http.StatusOK, newTradeResponse(t))
}

func (h *APIHandlers) registerUser(w http.ResponseWriter, r *http.Request) {
	var payload service.ProfileInput
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.trust.RegisterProfile(r.Context(), payload)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to register user")
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *APIHandlers) getTrust(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if parseBool(r.URL.Query().Get("refresh")) {
		result, err := h.trust.Refresh(r.Context(), userID)
		if err != nil {
			h.writeServiceError(w, r, err, "failed to refresh trust score")
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	report, err := h.trust.Inspect(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to compute trust score")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *APIHandlers) listTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	trades, err := h.trades.ListTrades(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list trades")
		return
	}
	response := tradeListResponse{UserID: userID, Trades: make([]tradeResponse, 0, len(trades))}
	for _, t := range trades {
		response.Trades = append(response.Trades, newTradeResponse(t))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) recordViolation(w http.ResponseWriter, r *http.Request) {
	var payload violationRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.ledger.RecordViolation(r.Context(), ledger.Entry{
		UserID:      r.PathValue("id"),
		Kind:        payload.Kind,
		Description: payload.Description,
		TradeID:     payload.TradeID,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "failed to record violation")
		return
	}
	respondJSON(w, http.StatusCreated, violationResponse{Violation: rec, PenaltyPoints: rec.Penalty})
}

func (h *APIHandlers) listViolations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	recs, err := h.ledger.ListViolations(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list violations")
		return
	}
	respondJSON(w, http.StatusOK, violationListResponse{UserID: userID, Violations: recs})
}

func (h *APIHandlers) getExposure(w http.ResponseWriter, r *http.Request) {
	if h.exposure == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation graph is not configured")
		return
	}
	userID := r.PathValue("id")
	exposure, err := h.exposure.CounterpartyExposure(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to fetch counterparty exposure")
		return
	}
	flagged := exposure.Flagged()
	if flagged == nil {
		flagged = []domain.CounterpartyLink{}
	}
	if exposure.Counterparties == nil {
		exposure.Counterparties = []domain.CounterpartyLink{}
	}
	respondJSON(w, http.StatusOK, exposureResponse{CounterpartyExposure: exposure, Flagged: flagged})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
	Flag  string `json:"flag,omitempty"`
	Party string `json:"party,omitempty"`
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as msg.
func (h *APIHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var (
		validation   *domain.ValidationError
		precondition *domain.PreconditionError
		notFound     *domain.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Message, Code: validation.Code, Field: validation.Field})
	case errors.As(err, &precondition):
		respondJSON(w, http.StatusConflict, errorResponse{
			Error: precondition.Message,
			Code:  precondition.Code,
			Flag:  precondition.Flag,
			Party: string(precondition.Party),
		})
	case errors.As(err, &notFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: notFound.Error(), Code: "not_found"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error(msg, "error", err, "path", r.URL.Path, "requestId", RequestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func parseBool(value string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}
