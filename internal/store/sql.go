package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vanshika/swapguard/internal/domain"
)

// Dialect selects placeholder style and DDL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// profileUpdateAttempts bounds optimistic retries on concurrent profile writes.
const profileUpdateAttempts = 5

// SQLStore persists trades, profiles and violation records through
// database/sql. Aggregates are stored as CBOR documents next to the columns
// needed for lookups.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database and creates the schema if missing.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate %s schema: %w", dialect, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == DialectPostgres {
		blob = "BYTEA"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			party_a TEXT NOT NULL,
			party_b TEXT NOT NULL,
			status TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			version BIGINT NOT NULL,
			document ` + blob + ` NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS trades_party_a_idx ON trades (party_a)`,
		`CREATE INDEX IF NOT EXISTS trades_party_b_idx ON trades (party_b)`,
		`CREATE TABLE IF NOT EXISTS trust_profiles (
			user_id TEXT PRIMARY KEY,
			trust_score INTEGER NOT NULL,
			version BIGINT NOT NULL,
			document ` + blob + ` NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS violations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			penalty INTEGER NOT NULL,
			trade_id TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS violations_user_idx ON violations (user_id, created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) CreateTrade(ctx context.Context, t *domain.Trade) error {
	doc, err := encodeDocument(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(insertTradeSQL),
		t.ID, t.PartyA.UserID, t.PartyB.UserID, string(t.Status()), t.Security.RiskLevel.String(),
		t.Version, doc, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLStore) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	var (
		version int64
		doc     []byte
	)
	err := s.db.QueryRowContext(ctx, s.rebind(selectTradeSQL), id).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.TradeNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("select trade %s: %w", id, err)
	}

	var t domain.Trade
	if err := decodeDocument(doc, &t); err != nil {
		return nil, fmt.Errorf("load trade %s: %w", id, err)
	}
	t.Version = version
	return &t, nil
}

// UpdateTrade writes t only if the stored version still equals t.Version.
func (s *SQLStore) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	next := t.Clone()
	next.Version++
	doc, err := encodeDocument(next)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(updateTradeSQL),
		string(next.Status()), next.Version, doc, formatTime(next.UpdatedAt), t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", t.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update trade %s: %w", t.ID, err)
	}
	if affected == 0 {
		exists, err := s.tradeExists(ctx, t.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.TradeNotFound(t.ID)
		}
		return fmt.Errorf("update trade %s at version %d: %w", t.ID, t.Version, domain.ErrVersionConflict)
	}
	t.Version = next.Version
	return nil
}

func (s *SQLStore) ListTradesByUser(ctx context.Context, userID string) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(listTradesByUserSQL), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list trades for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Trade
	for rows.Next() {
		var (
			version int64
			doc     []byte
		)
		if err := rows.Scan(&version, &doc); err != nil {
			return nil, err
		}
		var t domain.Trade
		if err := decodeDocument(doc, &t); err != nil {
			return nil, err
		}
		t.Version = version
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLStore) tradeExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(tradeExistsSQL), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check trade %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLStore) CreateProfile(ctx context.Context, p *domain.UserTrustProfile) error {
	doc, err := encodeDocument(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(insertProfileSQL),
		p.UserID, p.TrustScore, int64(0), doc, formatTime(p.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create profile %s: %w", p.UserID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*domain.UserTrustProfile, error) {
	p, _, err := s.loadProfile(ctx, s.db, userID)
	return p, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) loadProfile(ctx context.Context, q queryer, userID string) (*domain.UserTrustProfile, int64, error) {
	var (
		version int64
		doc     []byte
	)
	err := q.QueryRowContext(ctx, s.rebind(selectProfileSQL), userID).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, domain.ProfileNotFound(userID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("select profile %s: %w", userID, err)
	}
	p, err := decodeProfile(doc)
	if err != nil {
		return nil, 0, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return p, version, nil
}

// UpdateProfile runs fn inside a transaction guarded by the row version,
// retrying when a concurrent writer got there first.
func (s *SQLStore) UpdateProfile(ctx context.Context, userID string, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error) {
	return s.updateProfile(ctx, userID, fn, nil)
}

// AppendViolation inserts rec and applies fn to the offender's profile in
// the same transaction.
func (s *SQLStore) AppendViolation(ctx context.Context, rec domain.ViolationRecord, fn func(*domain.UserTrustProfile) error) (*domain.UserTrustProfile, error) {
	return s.updateProfile(ctx, rec.UserID, fn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(insertViolationSQL),
			rec.ID, rec.UserID, string(rec.Kind), rec.Penalty, rec.TradeID, rec.Description, formatTime(rec.CreatedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("append violation %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("insert violation %s: %w", rec.ID, err)
		}
		return nil
	})
}

func (s *SQLStore) updateProfile(ctx context.Context, userID string, fn func(*domain.UserTrustProfile) error, also func(*sql.Tx) error) (*domain.UserTrustProfile, error) {
	for attempt := 0; attempt < profileUpdateAttempts; attempt++ {
		p, err := s.tryUpdateProfile(ctx, userID, fn, also)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		return p, err
	}
	return nil, fmt.Errorf("update profile %s: %w", userID, domain.ErrVersionConflict)
}

func (s *SQLStore) tryUpdateProfile(ctx context.Context, userID string, fn func(*domain.UserTrustProfile) error, also func(*sql.Tx) error) (*domain.UserTrustProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin profile update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, version, err := s.loadProfile(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	doc, err := encodeDocument(p)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, s.rebind(updateProfileSQL),
		p.TrustScore, version+1, doc, formatTime(p.UpdatedAt), userID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}
	if affected == 0 {
		return nil, domain.ErrVersionConflict
	}
	if also != nil {
		if err := also(tx); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile %s: %w", userID, err)
	}
	return p, nil
}

func (s *SQLStore) ListProfileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listProfileIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) ListViolations(ctx context.Context, userID string) ([]domain.ViolationRecord, error) {
	if _, err := s.GetProfile(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(listViolationsSQL), userID)
	if err != nil {
		return nil, fmt.Errorf("list violations for %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ViolationRecord
	for rows.Next() {
		var (
			rec       domain.ViolationRecord
			kind      string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &kind, &rec.Penalty, &rec.TradeID, &rec.Description, &createdAt); err != nil {
			return nil, err
		}
		rec.Kind = domain.ViolationKind(kind)
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// pqUniqueViolation is the Postgres SQLSTATE for a duplicate key.
const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a primary key or unique
// constraint failure from either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

const (
	insertTradeSQL = `INSERT INTO trades (id, party_a, party_b, status, risk_level, version, document, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTradeSQL = `SELECT version, document FROM trades WHERE id = ?`

	tradeExistsSQL = `SELECT 1 FROM trades WHERE id = ?`

	updateTradeSQL = `UPDATE trades SET status = ?, version = ?, document = ?, updated_at = ?
WHERE id = ? AND version = ?`

	listTradesByUserSQL = `SELECT version, document FROM trades WHERE party_a = ? OR party_b = ? ORDER BY created_at, id`

	insertProfileSQL = `INSERT INTO trust_profiles (user_id, trust_score, version, document, updated_at)
VALUES (?, ?, ?, ?, ?)`

	selectProfileSQL = `SELECT version, document FROM trust_profiles WHERE user_id = ?`

	updateProfileSQL = `UPDATE trust_profiles SET trust_score = ?, version = ?, document = ?, updated_at = ?
WHERE user_id = ? AND version = ?`

	listProfileIDsSQL = `SELECT user_id FROM trust_profiles ORDER BY user_id`

	insertViolationSQL = `INSERT INTO violations (id, user_id, kind, penalty, trade_id, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	listViolationsSQL = `SELECT id, user_id, kind, penalty, trade_id, description, created_at
FROM violations WHERE user_id = ? ORDER BY created_at, id`
)
