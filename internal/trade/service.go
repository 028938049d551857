// Package trade runs the validation state machine for a barter exchange.
// Every step is applied under a per-trade lock as one conditional
// read-modify-write, so flags, proofs, ratings and the timeline move
// together or not at all.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/ledger"
	"github.com/vanshika/swapguard/internal/lock"
	"github.com/vanshika/swapguard/internal/metrics"
	"github.com/vanshika/swapguard/internal/risk"
	"github.com/vanshika/swapguard/internal/service"
)

const maxUpdateAttempts = 3

// errUnsettled routes a delivery replay on a completed trade to settlement.
var errUnsettled = errors.New("completion not settled")

// Store is the trade persistence contract.
type Store interface {
	CreateTrade(ctx context.Context, t *domain.Trade) error
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	UpdateTrade(ctx context.Context, t *domain.Trade) error
	ListTradesByUser(ctx context.Context, userID string) ([]*domain.Trade, error)
}

// TrustSource scores participants and receives their completion stats.
type TrustSource interface {
	Refresh(ctx context.Context, userID string) (service.TrustResult, error)
	RecordCompletion(ctx context.Context, userID, tradeID string, rating int) error
	RecordCancellation(ctx context.Context, userID string) error
}

// ViolationRecorder is the ledger entry point used by moderation.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, e ledger.Entry) (domain.ViolationRecord, error)
}

// Graph receives trade and report projections.
type Graph interface {
	ProjectTrade(ctx context.Context, t *domain.Trade) error
	ProjectReport(ctx context.Context, t *domain.Trade, rep domain.Report) error
}

// Service applies trade operations.
type Service struct {
	store      Store
	trust      TrustSource
	violations ViolationRecorder
	locker     lock.Locker
	graph      Graph
	metrics    *metrics.Recorder
	logger     *slog.Logger
	nowFn      func() time.Time
	newID      func() string
}

// NewService wires the state machine. A nil locker serializes trades
// within this process only.
func NewService(store Store, trust TrustSource, violations ViolationRecorder, locker lock.Locker, logger *slog.Logger) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		trust:      trust,
		violations: violations,
		locker:     locker,
		logger:     logger.With("component", "trade"),
		nowFn:      time.Now,
		newID:      uuid.NewString,
	}
}

// WithGraph projects completed trades and reports.
func (s *Service) WithGraph(g Graph) *Service {
	s.graph = g
	return s
}

// WithMetrics counts created trades and applied steps.
func (s *Service) WithMetrics(m *metrics.Recorder) *Service {
	s.metrics = m
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.nowFn = now
	}
	return s
}

// CreateTrade scores both participants, classifies the pair and freezes
// the resulting security block onto a new trade.
func (s *Service) CreateTrade(ctx context.Context, in CreateInput) (*domain.Trade, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	a := strings.TrimSpace(in.PartyA.UserID)
	b := strings.TrimSpace(in.PartyB.UserID)

	scoreA, err := s.trust.Refresh(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", a, err)
	}
	scoreB, err := s.trust.Refresh(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", b, err)
	}
	assessment := risk.ClassifyWithFallback(scoreA.Score, degradedErr(scoreA), scoreB.Score, degradedErr(scoreB))

	now := s.nowFn().UTC()
	t := &domain.Trade{
		ID:     s.newID(),
		PartyA: domain.Participant{UserID: a, Items: cleanRefs(in.PartyA.Items)},
		PartyB: domain.Participant{UserID: b, Items: cleanRefs(in.PartyB.Items)},
		Security: domain.Security{
			TrustScores: domain.PartyScores{PartyA: scoreA.Score, PartyB: scoreB.Score},
			RiskLevel:   assessment.RiskLevel,
			Constraints: assessment.Constraints,
			Degraded:    assessment.Degraded,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	appendEntry(t, domain.StepCreated, domain.ActorSystem, now, map[string]string{
		"riskLevel": assessment.RiskLevel.String(),
		"partyA":    a,
		"partyB":    b,
	})

	if err := s.store.CreateTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("create trade: %w", err)
	}
	s.metrics.TradeCreated(ctx, assessment.RiskLevel.String())
	s.logger.Info("trade created",
		"tradeId", t.ID,
		"riskLevel", assessment.RiskLevel.String(),
		"lowestScore", assessment.LowestScore,
		"degraded", assessment.Degraded,
	)
	return t, nil
}

// GetTrade loads a trade.
func (s *Service) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	return s.store.GetTrade(ctx, id)
}

// ListTrades returns the trades userID participates in.
func (s *Service) ListTrades(ctx context.Context, userID string) ([]*domain.Trade, error) {
	trades, err := s.store.ListTradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	return trades, nil
}

// SubmitPhotos stores a party's proof bundle and raises its photo flag.
func (s *Service) SubmitPhotos(ctx context.Context, tradeID string, in PhotosInput) (*domain.Trade, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t, err := s.mutate(ctx, tradeID, func(t *domain.Trade, now time.Time) error {
		party, err := actingParty(t, in.UserID)
		if err != nil {
			return err
		}
		if err := ensureOpen(t); err != nil {
			return err
		}
		if !t.Security.Constraints.PhotosRequired {
			return domain.NewValidationError("photos_not_required", "photos",
				fmt.Sprintf("photos are not required at %s", t.Security.RiskLevel))
		}
		if t.Security.Steps.PhotosSubmitted.Get(party) {
			return duplicateStep("photosSubmitted", party)
		}

		tracking := strings.TrimSpace(in.TrackingNumber)
		t.Security.Proofs.Put(party, &domain.Proof{
			Photos:         cleanRefs(in.Photos),
			TrackingNumber: tracking,
			SubmittedAt:    now,
		})
		t.Security.Steps.PhotosSubmitted.Set(party)
		data := map[string]string{"photos": strconv.Itoa(len(in.Photos))}
		if tracking != "" {
			data["trackingNumber"] = tracking
		}
		appendEntry(t, domain.StepPhotosSubmitted, party, now, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.applied(ctx, t, domain.StepPhotosSubmitted, in.UserID)
	return t, nil
}

// ConfirmShipment raises a party's shipping flag. When photos are required
// the party's own photos must already be in.
func (s *Service) ConfirmShipment(ctx context.Context, tradeID string, in ShipmentInput) (*domain.Trade, error) {
	t, err := s.mutate(ctx, tradeID, func(t *domain.Trade, now time.Time) error {
		party, err := actingParty(t, in.UserID)
		if err != nil {
			return err
		}
		if err := ensureOpen(t); err != nil {
			return err
		}
		steps := &t.Security.Steps
		if steps.ShippingConfirmed.Get(party) {
			return duplicateStep("shippingConfirmed", party)
		}
		if t.Security.Constraints.PhotosRequired && !steps.PhotosSubmitted.Get(party) {
			return domain.NewPreconditionError("photos_missing", "photosSubmitted", party,
				"photos must be submitted before shipping")
		}

		proof := t.Security.Proofs.Get(party)
		tracking := strings.TrimSpace(in.TrackingNumber)
		if tracking == "" && proof != nil {
			tracking = proof.TrackingNumber
		}
		if t.Security.Constraints.TrackingRequired && tracking == "" {
			return domain.NewValidationError("tracking_required", "trackingNumber",
				fmt.Sprintf("a tracking number is required at %s", t.Security.RiskLevel))
		}
		if tracking != "" {
			if proof == nil {
				proof = &domain.Proof{SubmittedAt: now}
				t.Security.Proofs.Put(party, proof)
			}
			proof.TrackingNumber = tracking
		}

		steps.ShippingConfirmed.Set(party)
		var data map[string]string
		if tracking != "" {
			data = map[string]string{"trackingNumber": tracking}
		}
		appendEntry(t, domain.StepShipmentConfirm, party, now, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.applied(ctx, t, domain.StepShipmentConfirm, in.UserID)
	return t, nil
}

// ConfirmDelivery records receipt and the rating given to the counterparty.
// The second confirmation completes the trade and settles both
// participants' statistics. If settlement fails the error is returned and a
// later ConfirmDelivery from either participant finishes it.
func (s *Service) ConfirmDelivery(ctx context.Context, tradeID string, in DeliveryInput) (*domain.Trade, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t, err := s.mutate(ctx, tradeID, func(t *domain.Trade, now time.Time) error {
		party, err := actingParty(t, in.UserID)
		if err != nil {
			return err
		}
		if t.Status() == domain.StatusCompleted && !t.StatsRecorded.Both() {
			return errUnsettled
		}
		if err := ensureOpen(t); err != nil {
			return err
		}
		steps := &t.Security.Steps
		if steps.DeliveryConfirmed.Get(party) {
			return duplicateStep("deliveryConfirmed", party)
		}
		if !steps.ShippingConfirmed.Get(party.Other()) {
			return domain.NewPreconditionError("counterparty_not_shipped", "shippingConfirmed", party.Other(),
				"the counterparty has not confirmed shipment")
		}

		steps.DeliveryConfirmed.Set(party)
		t.Ratings.SetGivenBy(party, &domain.Rating{
			Score:       in.Rating,
			Comment:     strings.TrimSpace(in.Comment),
			SubmittedAt: now,
		})
		appendEntry(t, domain.StepDeliveryConfirm, party, now, map[string]string{"rating": strconv.Itoa(in.Rating)})
		if steps.DeliveryConfirmed.Both() {
			appendEntry(t, domain.StepCompleted, domain.ActorSystem, now, nil)
		}
		return nil
	})
	if errors.Is(err, errUnsettled) {
		s.logger.Info("resuming completion settlement", "tradeId", tradeID, "userId", in.UserID)
		return s.settle(ctx, tradeID)
	}
	if err != nil {
		return nil, err
	}
	s.applied(ctx, t, domain.StepDeliveryConfirm, in.UserID)

	if t.Status() != domain.StatusCompleted {
		return t, nil
	}
	s.completed(ctx, t)
	return s.settle(ctx, t.ID)
}

// completed reports a freshly completed trade. It runs once per trade.
func (s *Service) completed(ctx context.Context, t *domain.Trade) {
	s.metrics.StepApplied(ctx, string(domain.StepCompleted))
	s.logger.Info("trade completed", "tradeId", t.ID)

	if s.graph != nil {
		if err := s.graph.ProjectTrade(ctx, t); err != nil {
			s.logger.Warn("graph projection failed", "tradeId", t.ID, "error", err)
		}
	}
}

// settle feeds each participant whose StatsRecorded flag is still down the
// rating they received, then raises the flags that landed. The trade ID is
// the profile-side replay key, so a flag write lost after a successful
// profile update cannot count the trade twice.
func (s *Service) settle(ctx context.Context, tradeID string) (*domain.Trade, error) {
	var (
		out    *domain.Trade
		failed []error
	)
	err := s.locked(ctx, tradeID, func() error {
		current, err := s.store.GetTrade(ctx, tradeID)
		if err != nil {
			return err
		}
		out = current
		if current.Status() != domain.StatusCompleted {
			return nil
		}

		var done []domain.Party
		for _, party := range []domain.Party{domain.PartyA, domain.PartyB} {
			if current.StatsRecorded.Get(party) {
				continue
			}
			userID := current.Participant(party).UserID
			received := 0
			if r := current.Ratings.GivenBy(party.Other()); r != nil {
				received = r.Score
			}
			if err := s.trust.RecordCompletion(ctx, userID, current.ID, received); err != nil {
				s.logger.Error("completion stats update failed", "tradeId", current.ID, "userId", userID, "error", err)
				failed = append(failed, fmt.Errorf("%s: %w", userID, err))
				continue
			}
			done = append(done, party)
		}
		if len(done) == 0 {
			return nil
		}
		out, err = s.apply(ctx, tradeID, func(t *domain.Trade, _ time.Time) error {
			for _, party := range done {
				t.StatsRecorded.Set(party)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("settle trade %s: %w", tradeID, err)
	}
	if len(failed) > 0 {
		return nil, fmt.Errorf("settle trade %s: %w", tradeID, errors.Join(failed...))
	}
	return out, nil
}

// ReportProblem appends a pending report. It never changes the status and
// is accepted after completion too.
func (s *Service) ReportProblem(ctx context.Context, tradeID string, in ReportInput) (*domain.Trade, domain.Report, error) {
	if err := in.validate(); err != nil {
		return nil, domain.Report{}, err
	}
	var rep domain.Report
	t, err := s.mutate(ctx, tradeID, func(t *domain.Trade, now time.Time) error {
		party, err := actingParty(t, in.UserID)
		if err != nil {
			return err
		}
		switch t.Status() {
		case domain.StatusCancelled, domain.StatusDisputed:
			return closed(t)
		}

		evidence := cleanRefs(in.Evidence)
		if evidence == nil {
			evidence = []string{}
		}
		rep = domain.Report{
			ID:          s.newID(),
			ReportedBy:  t.Participant(party).UserID,
			Reason:      strings.TrimSpace(in.Reason),
			Description: strings.TrimSpace(in.Description),
			Evidence:    evidence,
			Status:      domain.ReportStatusPending,
			CreatedAt:   now,
		}
		t.Security.Reports = append(t.Security.Reports, rep)
		appendEntry(t, domain.StepProblemReported, party, now, map[string]string{
			"reportId": rep.ID,
			"reason":   rep.Reason,
		})
		return nil
	})
	if err != nil {
		return nil, domain.Report{}, err
	}
	s.applied(ctx, t, domain.StepProblemReported, in.UserID)

	if s.graph != nil {
		if err := s.graph.ProjectReport(ctx, t, rep); err != nil {
			s.logger.Warn("graph projection failed", "tradeId", t.ID, "reportId", rep.ID, "error", err)
		}
	}
	return t, rep, nil
}

// Cancel closes a trade nobody has shipped on yet.
func (s *Service) Cancel(ctx context.Context, tradeID string, in CancelInput) (*domain.Trade, error) {
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxReasonLength {
		return nil, domain.NewValidationError("reason_too_long", "reason", fmt.Sprintf("reason exceeds %d characters", maxReasonLength))
	}
	t, err := s.mutate(ctx, tradeID, func(t *domain.Trade, now time.Time) error {
		party, err := actingParty(t, in.UserID)
		if err != nil {
			return err
		}
		if err := ensureOpen(t); err != nil {
			return err
		}
		shipped := t.Security.Steps.ShippingConfirmed
		if shipped.Any() {
			by := domain.PartyA
			if !shipped.PartyA {
				by = domain.PartyB
			}
			return domain.NewPreconditionError("already_shipped", "shippingConfirmed", by,
				"a trade cannot be cancelled once shipment is confirmed")
		}

		t.Outcome = domain.OutcomeCancelled
		t.OutcomeReason = reason
		var data map[string]string
		if reason != "" {
			data = map[string]string{"reason": reason}
		}
		appendEntry(t, domain.StepCancelled, party, now, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.applied(ctx, t, domain.StepCancelled, in.UserID)

	if err := s.trust.RecordCancellation(ctx, strings.TrimSpace(in.UserID)); err != nil {
		s.logger.Error("cancellation stats update failed", "tradeId", t.ID, "userId", in.UserID, "error", err)
	}
	return t, nil
}

// MarkDisputed is the moderation force-transition out of the happy path.
// Completed trades are final: a problem reported after completion is
// settled through ResolveReport, which can charge a violation but never
// reopens the trade.
func (s *Service) MarkDisputed(ctx context.Context, tradeID string, in DisputeInput) (*domain.Trade, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, domain.NewValidationError("missing_reason", "reason", "a reason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, domain.NewValidationError("reason_too_long", "reason", fmt.Sprintf("reason exceeds %d characters", maxReasonLength))
	}
	t, err := s.mutate(ctx, tradeID, func(t *domain.Trade, now time.Time) error {
		if err := ensureOpen(t); err != nil {
			return err
		}
		t.Outcome = domain.OutcomeDisputed
		t.OutcomeReason = reason
		appendEntry(t, domain.StepDisputed, domain.ActorModeration, now, map[string]string{"reason": reason})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.applied(ctx, t, domain.StepDisputed, string(domain.ActorModeration))
	return t, nil
}

// ResolveReport settles a pending report once. An upheld report charges a
// violation to the reporter's counterparty when a kind is given, or when
// the report's reason is itself a violation kind. The violation is recorded
// before the report leaves pending, under a key derived from the report, so
// a failure on either side can be retried without losing or doubling it.
func (s *Service) ResolveReport(ctx context.Context, tradeID, reportID string, in ResolveInput) (*domain.Trade, domain.Report, error) {
	if err := in.validate(); err != nil {
		return nil, domain.Report{}, err
	}
	var (
		t   *domain.Trade
		rep domain.Report
	)
	err := s.locked(ctx, tradeID, func() error {
		current, err := s.store.GetTrade(ctx, tradeID)
		if err != nil {
			return err
		}
		pending, err := pendingReport(current, reportID)
		if err != nil {
			return err
		}

		entry, charged := violationFor(current, *pending, in)
		violationID := ""
		if charged {
			rec, err := s.violations.RecordViolation(ctx, entry)
			switch {
			case errors.Is(err, domain.ErrAlreadyExists):
				s.logger.Info("violation already recorded for report", "tradeId", tradeID, "reportId", reportID)
				violationID = entry.ID
			case err != nil:
				return fmt.Errorf("record violation for upheld report %s: %w", reportID, err)
			default:
				violationID = rec.ID
			}
		}

		t, err = s.apply(ctx, tradeID, func(t *domain.Trade, now time.Time) error {
			r, err := pendingReport(t, reportID)
			if err != nil {
				return err
			}
			resolvedAt := now
			r.Status = in.Outcome
			r.ResolvedAt = &resolvedAt
			r.ViolationID = violationID
			rep = *r

			data := map[string]string{"reportId": r.ID, "outcome": in.Outcome}
			if charged {
				data["violationKind"] = string(entry.Kind)
				data["violationId"] = violationID
			}
			appendEntry(t, domain.StepReportResolved, domain.ActorModeration, now, data)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, domain.Report{}, err
	}
	s.applied(ctx, t, domain.StepReportResolved, string(domain.ActorModeration))
	return t, rep, nil
}

func pendingReport(t *domain.Trade, reportID string) (*domain.Report, error) {
	for i := range t.Security.Reports {
		r := &t.Security.Reports[i]
		if r.ID != reportID {
			continue
		}
		if r.Status != domain.ReportStatusPending {
			return nil, domain.NewPreconditionError("report_resolved", "report", "",
				fmt.Sprintf("report %s is already %s", r.ID, r.Status))
		}
		return r, nil
	}
	return nil, domain.ReportNotFound(reportID)
}

// violationFor builds the ledger entry an upheld report charges, if any.
func violationFor(t *domain.Trade, rep domain.Report, in ResolveInput) (ledger.Entry, bool) {
	if in.Outcome != domain.ReportStatusUpheld {
		return ledger.Entry{}, false
	}
	kind := in.Kind
	if kind == "" && domain.ViolationKind(rep.Reason).Valid() {
		kind = domain.ViolationKind(rep.Reason)
	}
	if kind == "" {
		return ledger.Entry{}, false
	}

	reporter, _ := t.PartyOf(rep.ReportedBy)
	description := rep.Reason
	if rep.Description != "" {
		description += ": " + rep.Description
	}
	return ledger.Entry{
		ID:          reportViolationID(t.ID, rep.ID),
		UserID:      t.Participant(reporter.Other()).UserID,
		Kind:        kind,
		Description: truncate(description, maxDescriptionLength),
		TradeID:     t.ID,
	}, true
}

// reportViolationID is stable per report, which makes it the ledger's
// replay key.
func reportViolationID(tradeID, reportID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("swapguard:report:"+tradeID+"/"+reportID)).String()
}

type mutation func(t *domain.Trade, now time.Time) error

// mutate applies fn to a fresh copy of the trade under its lock and writes
// it back conditionally.
func (s *Service) mutate(ctx context.Context, tradeID string, fn mutation) (*domain.Trade, error) {
	var t *domain.Trade
	err := s.locked(ctx, tradeID, func() error {
		var err error
		t, err = s.apply(ctx, tradeID, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) locked(ctx context.Context, tradeID string, fn func() error) error {
	release, err := s.locker.Lock(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("lock trade %s: %w", tradeID, err)
	}
	defer release()
	return fn()
}

// apply is the read-modify-write behind mutate; the caller holds the lock.
// A version conflict means another instance wrote without the lock, so the
// step is re-evaluated against the newer state.
func (s *Service) apply(ctx context.Context, tradeID string, fn mutation) (*domain.Trade, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.store.GetTrade(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		now := s.nowFn().UTC()
		if err := fn(next, now); err != nil {
			return nil, err
		}
		next.UpdatedAt = now

		err = s.store.UpdateTrade(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= maxUpdateAttempts {
			return nil, err
		}
		s.logger.Debug("retrying trade update", "tradeId", tradeID, "attempt", attempt, "error", err)
	}
}

func (s *Service) applied(ctx context.Context, t *domain.Trade, step domain.Step, actor string) {
	s.metrics.StepApplied(ctx, string(step))
	s.logger.Info("trade step applied",
		"tradeId", t.ID,
		"step", step,
		"actor", actor,
		"status", t.Status(),
		"version", t.Version,
	)
}

func actingParty(t *domain.Trade, userID string) (domain.Party, error) {
	party, ok := t.PartyOf(strings.TrimSpace(userID))
	if !ok {
		return "", domain.NewValidationError("not_a_participant", "userId",
			fmt.Sprintf("user %q is not a participant of trade %s", userID, t.ID))
	}
	return party, nil
}

func ensureOpen(t *domain.Trade) error {
	if t.Terminal() {
		return closed(t)
	}
	return nil
}

func closed(t *domain.Trade) error {
	return domain.NewPreconditionError("trade_closed", "", "", fmt.Sprintf("trade %s is %s", t.ID, t.Status()))
}

func duplicateStep(flag string, party domain.Party) error {
	return domain.NewPreconditionError("duplicate_step", flag, party, "step already recorded")
}

func degradedErr(r service.TrustResult) error {
	if r.Degraded {
		return domain.ErrDegradedScore
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
