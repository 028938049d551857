package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/swapguard/internal/domain"
)

func newPostgresMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for i := 0; i < 6; i++ {
		mock.ExpectExec("CREATE (TABLE|INDEX) IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	s, err := NewSQLStore(context.Background(), db, DialectPostgres)
	require.NoError(t, err)
	return s, mock
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	lite := &SQLStore{dialect: DialectSQLite}

	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	assert.Equal(t, "SELECT a FROM t WHERE x = ?", lite.rebind("SELECT a FROM t WHERE x = ?"))
}

func TestNewSQLStoreRejectsUnknownDialect(t *testing.T) {
	_, err := NewSQLStore(context.Background(), nil, Dialect("oracle"))
	assert.ErrorContains(t, err, "unsupported sql dialect")
}

func TestPostgresUpdateTradeConflict(t *testing.T) {
	s, mock := newPostgresMock(t)
	trade := sampleTrade("t-1", "alice", "bob")
	trade.Version = 3

	mock.ExpectExec(regexp.QuoteMeta("UPDATE trades SET status = $1, version = $2, document = $3, updated_at = $4")).
		WithArgs(string(domain.StatusPhotosRequired), int64(4), sqlmock.AnyArg(), sqlmock.AnyArg(), "t-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM trades WHERE id = $1")).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	err := s.UpdateTrade(context.Background(), trade)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, int64(3), trade.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTradeMissing(t *testing.T) {
	s, mock := newPostgresMock(t)
	trade := sampleTrade("t-2", "alice", "bob")

	mock.ExpectExec("UPDATE trades").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM trades WHERE id = $1")).
		WithArgs("t-2").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))

	err := s.UpdateTrade(context.Background(), trade)
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTradeAdvancesVersion(t *testing.T) {
	s, mock := newPostgresMock(t)
	trade := sampleTrade("t-3", "alice", "bob")

	mock.ExpectExec("UPDATE trades").
		WithArgs(sqlmock.AnyArg(), int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), "t-3", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateTrade(context.Background(), trade))
	assert.Equal(t, int64(1), trade.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProfileUpdateRetriesOnConflict(t *testing.T) {
	s, mock := newPostgresMock(t)
	doc, err := encodeDocument(domain.NewUserTrustProfile("u-1", epoch))
	require.NoError(t, err)

	selectProfile := regexp.QuoteMeta("SELECT version, document FROM trust_profiles WHERE user_id = $1")

	mock.ExpectBegin()
	mock.ExpectQuery(selectProfile).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "document"}).AddRow(int64(2), doc))
	mock.ExpectExec("UPDATE trust_profiles").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(selectProfile).WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "document"}).AddRow(int64(3), doc))
	mock.ExpectExec("UPDATE trust_profiles").
		WithArgs(sqlmock.AnyArg(), int64(4), sqlmock.AnyArg(), sqlmock.AnyArg(), "u-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	p, err := s.UpdateProfile(context.Background(), "u-1", func(p *domain.UserTrustProfile) error {
		calls++
		p.CancelledTrades++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, p.CancelledTrades)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateTradeMapsDuplicateKey(t *testing.T) {
	s, mock := newPostgresMock(t)
	trade := sampleTrade("t-4", "alice", "bob")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trades")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"trades_pkey\""})

	err := s.CreateTrade(context.Background(), trade)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateTradeKeepsOtherErrors(t *testing.T) {
	s, mock := newPostgresMock(t)
	trade := sampleTrade("t-5", "alice", "bob")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trades")).
		WillReturnError(&pq.Error{Code: "53300", Message: "too many connections"})

	err := s.CreateTrade(context.Background(), trade)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrAlreadyExists))
	assert.ErrorContains(t, err, "insert trade t-5")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateProfileMapsDuplicateKey(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trust_profiles")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.CreateProfile(context.Background(), domain.NewUserTrustProfile("u-2", epoch))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}
