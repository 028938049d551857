package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/metrics"
	"github.com/vanshika/swapguard/internal/trust"
)

// ProfileStore is the persistence contract required by the trust service.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p *domain.UserTrustProfile) error
	GetProfile(ctx context.Context, userID string) (*domain.UserTrustProfile, error)
	UpdateProfile(ctx context.Context, userID string, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error)
	ListProfileIDs(ctx context.Context) ([]string, error)
}

// UserGraph mirrors profile counters into the reputation graph.
type UserGraph interface {
	UpsertUser(ctx context.Context, p *domain.UserTrustProfile) error
}

var (
	// errKeepCached aborts a profile write without surfacing an error.
	errKeepCached = errors.New("keep cached score")
	// errAlreadySettled aborts a completion the profile has already absorbed.
	errAlreadySettled = errors.New("completion already settled")
)

// TrustService owns trust score computation and the profile counters that
// feed it.
type TrustService struct {
	store   ProfileStore
	engine  *trust.Engine
	graph   UserGraph
	metrics *metrics.Recorder
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewTrustService wires the service. A nil engine uses the wall clock.
func NewTrustService(store ProfileStore, engine *trust.Engine, logger *slog.Logger) *TrustService {
	if engine == nil {
		engine = trust.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrustService{
		store:  store,
		engine: engine,
		logger: logger.With("component", "trust"),
		nowFn:  time.Now,
	}
}

// WithGraph mirrors profile changes into the reputation graph.
func (s *TrustService) WithGraph(g UserGraph) *TrustService {
	s.graph = g
	return s
}

// WithMetrics records degraded computations.
func (s *TrustService) WithMetrics(m *metrics.Recorder) *TrustService {
	s.metrics = m
	return s
}

// WithClock overrides the time source used for timestamps.
func (s *TrustService) WithClock(now func() time.Time) *TrustService {
	if now != nil {
		s.nowFn = now
	}
	return s
}

// RegisterProfile stores a new reputation record and scores it.
func (s *TrustService) RegisterProfile(ctx context.Context, in ProfileInput) (*domain.UserTrustProfile, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.nowFn().UTC()
	p := in.ToProfile(now)
	if score, err := s.engine.Compute(p); err == nil {
		p.TrustScore = score
		p.LastScoredAt = &now
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.NewValidationError("duplicate_user", "userId", fmt.Sprintf("user %s already registered", p.UserID))
		}
		return nil, err
	}
	s.mirror(ctx, p)
	return p, nil
}

// Refresh recomputes the score for userID and caches it on the profile.
// A degraded computation yields the default score and leaves the cached
// value untouched. Only a missing profile or a store failure is an error.
func (s *TrustService) Refresh(ctx context.Context, userID string) (TrustResult, error) {
	var result TrustResult
	p, err := s.store.UpdateProfile(ctx, userID, func(p *domain.UserTrustProfile) error {
		result = s.score(ctx, p)
		if result.Degraded {
			return errKeepCached
		}
		p.TrustScore = result.Score
		p.LastScoredAt = &result.ScoredAt
		p.UpdatedAt = result.ScoredAt
		return nil
	})
	switch {
	case errors.Is(err, errKeepCached):
		return result, nil
	case err != nil:
		return TrustResult{}, err
	}
	s.mirror(ctx, p)
	return result, nil
}

// Inspect computes the current score without writing anything.
func (s *TrustService) Inspect(ctx context.Context, userID string) (TrustReport, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return TrustReport{}, err
	}
	return TrustReport{Profile: p, Result: s.score(ctx, p)}, nil
}

// RecordCompletion folds completed trade tradeID into userID's counters and
// recomputes the cached score. rating is the score the counterparty gave;
// zero means none was left. Replaying the same tradeID changes nothing.
func (s *TrustService) RecordCompletion(ctx context.Context, userID, tradeID string, rating int) error {
	return s.bump(ctx, userID, true, func(p *domain.UserTrustProfile) error {
		if tradeID != "" && p.HasSettled(tradeID) {
			return errAlreadySettled
		}
		p.CompletedTrades++
		if rating > 0 {
			p.AddRating(rating)
		}
		if tradeID != "" {
			p.MarkSettled(tradeID)
		}
		return nil
	})
}

// RecordCancellation counts a trade userID walked away from. The cached
// score catches up on the next refresh.
func (s *TrustService) RecordCancellation(ctx context.Context, userID string) error {
	return s.bump(ctx, userID, false, func(p *domain.UserTrustProfile) error {
		p.CancelledTrades++
		return nil
	})
}

func (s *TrustService) bump(ctx context.Context, userID string, rescore bool, mutate func(*domain.UserTrustProfile) error) error {
	p, err := s.store.UpdateProfile(ctx, userID, func(p *domain.UserTrustProfile) error {
		if err := mutate(p); err != nil {
			return err
		}
		p.UpdatedAt = s.nowFn().UTC()
		if !rescore {
			return nil
		}
		if result := s.score(ctx, p); !result.Degraded {
			p.TrustScore = result.Score
			p.LastScoredAt = &result.ScoredAt
		}
		return nil
	})
	if errors.Is(err, errAlreadySettled) {
		s.logger.Debug("completion already settled", "userId", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("update stats for %s: %w", userID, err)
	}
	s.mirror(ctx, p)
	return nil
}

func (s *TrustService) score(ctx context.Context, p *domain.UserTrustProfile) TrustResult {
	now := s.nowFn().UTC()
	b, err := s.engine.Breakdown(p)
	result := TrustResult{Score: b.Score, Breakdown: b, ScoredAt: now}
	if p != nil {
		result.UserID = p.UserID
	}
	if err != nil {
		result.Score = domain.DefaultTrustScore
		result.Degraded = true
		s.metrics.DegradedScore(ctx)
		s.logger.Warn("trust score degraded to default", "userId", result.UserID, "error", err)
	}
	return result
}

func (s *TrustService) mirror(ctx context.Context, p *domain.UserTrustProfile) {
	if s.graph == nil || p == nil {
		return
	}
	if err := s.graph.UpsertUser(ctx, p); err != nil {
		s.logger.Warn("graph projection failed", "userId", p.UserID, "error", err)
	}
}
