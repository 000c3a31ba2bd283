package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	tenantA = "9a8b7c6d-0000-4000-8000-00000000000a"
	userID  = "9a8b7c6d-0000-4000-8000-000000000101"
)

var now = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func expectBound(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs(tenantA).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func boundCtx() context.Context {
	return tenant.WithID(context.Background(), tenantA)
}

func TestLoginAttemptStoreImplementsMonitorPort(t *testing.T) {
	var _ limiters.AttemptStore = (*LoginAttemptStore)(nil)
}

func TestAppendAttemptUsesAttemptTenant(t *testing.T) {
	mock := newMock(t)
	s := NewLoginAttemptStore(mock)

	expectBound(mock)
	mock.ExpectExec("INSERT INTO login_attempts").
		WithArgs(tenantA, userID, false, "10.0.0.1", "curl/8", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.Append(context.Background(), limiters.Attempt{
		TenantID: tenantA, UserID: userID, IP: "10.0.0.1", UserAgent: "curl/8", At: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountFailures(t *testing.T) {
	mock := newMock(t)
	s := NewLoginAttemptStore(mock)
	since := now.Add(-30 * time.Minute)

	expectBound(mock)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(userID, since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectCommit()

	n, err := s.CountFailures(boundCtx(), userID, since)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginStats(t *testing.T) {
	mock := newMock(t)
	s := NewLoginAttemptStore(mock)

	expectBound(mock)
	mock.ExpectQuery("FILTER").
		WithArgs(now.Add(-24 * time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"ok", "fail", "users"}).AddRow(40, 3, 12))
	mock.ExpectCommit()

	st, err := s.Stats(boundCtx(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, LoginStats{Successes: 40, Failures: 3, UniqueUsers: 12}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSecurityEventSink(t *testing.T) {
	mock := newMock(t)
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewSecurityEventStore(mock, zap.New(core))

	ev := audit.Event{
		Timestamp: now, EventType: "account_locked", Severity: audit.SeverityHigh,
		Description: "Account locked", TenantID: tenantA, UserID: userID, IP: "10.0.0.1",
		Metadata: map[string]string{"failures": "5"},
	}

	t.Run("persists", func(t *testing.T) {
		expectBound(mock)
		mock.ExpectExec("INSERT INTO security_events").
			WithArgs(tenantA, userID, "account_locked", "high", "Account locked", "10.0.0.1", ev.Metadata, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
		s.Emit(context.Background(), ev)
	})

	t.Run("write failure is logged", func(t *testing.T) {
		expectBound(mock)
		mock.ExpectExec("INSERT INTO security_events").
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()
		s.Emit(context.Background(), ev)
		assert.Equal(t, 1, logs.FilterMessage("persist security event failed").Len())
	})

	t.Run("no tenant is skipped", func(t *testing.T) {
		s.Emit(context.Background(), audit.Event{EventType: "tenant_source_conflict"})
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenLifecycle(t *testing.T) {
	mock := newMock(t)
	s := NewResetTokenStore(mock)
	digest := "4f2a"

	t.Run("create retires earlier tokens", func(t *testing.T) {
		expectBound(mock)
		mock.ExpectExec("UPDATE password_reset_tokens SET is_used = TRUE").
			WithArgs(userID, now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("INSERT INTO password_reset_tokens").
			WithArgs(digest, tenantA, userID, now.Add(24*time.Hour), now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
		require.NoError(t, s.Create(boundCtx(), digest, userID, now.Add(24*time.Hour), now))
	})

	t.Run("tenant lookup is unscoped", func(t *testing.T) {
		tid := tenantA
		mock.ExpectQuery("auth_reset_token_tenant").
			WithArgs(digest).
			WillReturnRows(pgxmock.NewRows([]string{"tenant"}).AddRow(&tid))
		got, err := s.TenantOf(context.Background(), digest)
		require.NoError(t, err)
		assert.Equal(t, tenantA, got)
	})

	t.Run("unknown token", func(t *testing.T) {
		mock.ExpectQuery("auth_reset_token_tenant").
			WithArgs("nope").
			WillReturnRows(pgxmock.NewRows([]string{"tenant"}).AddRow(nil))
		_, err := s.TenantOf(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrResetTokenInvalid)
	})

	t.Run("consume once", func(t *testing.T) {
		expectBound(mock)
		mock.ExpectQuery("UPDATE password_reset_tokens SET is_used = TRUE, used_at").
			WithArgs(digest, now).
			WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(userID))
		mock.ExpectCommit()
		got, err := s.Consume(boundCtx(), digest, now)
		require.NoError(t, err)
		assert.Equal(t, userID, got)

		expectBound(mock)
		mock.ExpectQuery("UPDATE password_reset_tokens SET is_used = TRUE, used_at").
			WithArgs(digest, now).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()
		_, err = s.Consume(boundCtx(), digest, now)
		assert.ErrorIs(t, err, ErrResetTokenInvalid)
	})

	t.Run("expire stale", func(t *testing.T) {
		expectBound(mock)
		mock.ExpectExec("UPDATE password_reset_tokens SET is_used = TRUE, used_at = \\$1").
			WithArgs(now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 3))
		mock.ExpectCommit()
		n, err := s.ExpireStale(context.Background(), tenantA, now)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
