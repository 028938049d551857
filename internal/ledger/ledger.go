// Package ledger is the write-only record of penalized behaviour. Recording
// a violation bumps the offender's counters; the trust score picks them up
// the next time it is computed.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/metrics"
)

const maxDescriptionLength = 2000

// Store persists ledger entries together with the counter update.
type Store interface {
	AppendViolation(ctx context.Context, rec domain.ViolationRecord, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error)
	ListViolations(ctx context.Context, userID string) ([]domain.ViolationRecord, error)
}

// Graph receives violation projections.
type Graph interface {
	ProjectViolation(ctx context.Context, rec domain.ViolationRecord) error
}

// Entry is a violation to record. ID is optional; a caller that may replay
// the same entry sets it so the store rejects the second copy with
// domain.ErrAlreadyExists.
type Entry struct {
	ID          string
	UserID      string
	Kind        domain.ViolationKind
	Description string
	TradeID     string
}

// Ledger records violations.
type Ledger struct {
	store   Store
	graph   Graph
	metrics *metrics.Recorder
	logger  *slog.Logger
	nowFn   func() time.Time
	newID   func() string
}

// New builds a Ledger over store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger.With("component", "ledger"),
		nowFn:  time.Now,
		newID:  uuid.NewString,
	}
}

// WithGraph projects every recorded violation.
func (l *Ledger) WithGraph(g Graph) *Ledger {
	l.graph = g
	return l
}

// WithMetrics counts recorded violations by kind.
func (l *Ledger) WithMetrics(m *metrics.Recorder) *Ledger {
	l.metrics = m
	return l
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.nowFn = now
	}
	return l
}

// RecordViolation appends e to the offender's history, increments the
// matching counters and returns the penalty points the next score
// computation will subtract.
func (l *Ledger) RecordViolation(ctx context.Context, e Entry) (domain.ViolationRecord, error) {
	userID := strings.TrimSpace(e.UserID)
	if userID == "" {
		return domain.ViolationRecord{}, domain.NewValidationError("missing_user_id", "userId", "user id is required")
	}
	if !e.Kind.Valid() {
		return domain.ViolationRecord{}, domain.NewValidationError("unknown_violation_kind", "kind", fmt.Sprintf("unknown violation kind %q", e.Kind))
	}
	if len(e.Description) > maxDescriptionLength {
		return domain.ViolationRecord{}, domain.NewValidationError("description_too_long", "description",
			fmt.Sprintf("description exceeds %d characters", maxDescriptionLength))
	}

	id := strings.TrimSpace(e.ID)
	if id == "" {
		id = l.newID()
	}
	now := l.nowFn().UTC()
	rec := domain.ViolationRecord{
		ID:          id,
		UserID:      userID,
		Kind:        e.Kind,
		Description: strings.TrimSpace(e.Description),
		Penalty:     e.Kind.Penalty(),
		TradeID:     e.TradeID,
		CreatedAt:   now,
	}

	_, err := l.store.AppendViolation(ctx, rec, func(p *domain.UserTrustProfile) error {
		if p.Violations.ByKind == nil {
			p.Violations.ByKind = map[domain.ViolationKind]int{}
		}
		p.Violations.ByKind[rec.Kind]++
		p.Violations.Total++
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.ViolationRecord{}, fmt.Errorf("record %s violation for %s: %w", rec.Kind, userID, err)
	}

	l.metrics.ViolationRecorded(ctx, string(rec.Kind))
	l.logger.Info("violation recorded", "userId", userID, "kind", rec.Kind, "penalty", rec.Penalty, "tradeId", rec.TradeID)

	if l.graph != nil {
		if err := l.graph.ProjectViolation(ctx, rec); err != nil {
			l.logger.Warn("graph projection failed", "violationId", rec.ID, "error", err)
		}
	}
	return rec, nil
}

// ListViolations returns a user's history, oldest first.
func (l *Ledger) ListViolations(ctx context.Context, userID string) ([]domain.ViolationRecord, error) {
	recs, err := l.store.ListViolations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []domain.ViolationRecord{}
	}
	return recs, nil
}
