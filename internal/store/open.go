// Package store persists trades, trust profiles and violation records.
// Two backends share one contract: an in-memory store for tests and
// single-process use, and a database/sql store for SQLite or Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vanshika/swapguard/internal/config"
	"github.com/vanshika/swapguard/internal/domain"
)

// Backend is everything a store provides.
type Backend interface {
	CreateTrade(ctx context.Context, t *domain.Trade) error
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	UpdateTrade(ctx context.Context, t *domain.Trade) error
	ListTradesByUser(ctx context.Context, userID string) ([]*domain.Trade, error)

	CreateProfile(ctx context.Context, p *domain.UserTrustProfile) error
	GetProfile(ctx context.Context, userID string) (*domain.UserTrustProfile, error)
	UpdateProfile(ctx context.Context, userID string, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error)
	ListProfileIDs(ctx context.Context) ([]string, error)

	AppendViolation(ctx context.Context, rec domain.ViolationRecord, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error)
	ListViolations(ctx context.Context, userID string) ([]domain.ViolationRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*MemoryStore)(nil)
	_ Backend = (*SQLStore)(nil)
)

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case string(DialectSQLite):
		return openSQL(ctx, "sqlite", DialectSQLite, cfg)
	case string(DialectPostgres), "postgresql":
		return openSQL(ctx, "postgres", DialectPostgres, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openSQL(ctx context.Context, driverName string, dialect Dialect, cfg config.StoreConfig) (Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("STORE_DSN is required for the %s driver", dialect)
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	switch {
	case dialect == DialectSQLite && strings.Contains(cfg.DSN, ":memory:"):
		// Every in-memory connection is a separate database.
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	s, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
