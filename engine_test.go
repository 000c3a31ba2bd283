package clinicauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTenant  = "4f1e2d3c-0000-4000-8000-00000000000a"
	otherTenant = "4f1e2d3c-0000-4000-8000-00000000000b"
	testUser    = "4f1e2d3c-0000-4000-8000-000000000101"
	testSession = "4f1e2d3c-0000-4000-8000-000000000201"
)

type testEngine struct {
	*Engine
	mock  pgxmock.PgxPoolIface
	redis *miniredis.Miniredis
	sink  *ChannelSink
}

func testEngineConfig() Config {
	cfg := validConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.BreachCheck = false
	return cfg
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewChannelSink(16)

	e, err := New().
		WithConfig(testEngineConfig()).
		WithDB(mock).
		WithRedis(rdb).
		WithAuditSink(sink).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
		_ = rdb.Close()
		mock.Close()
	})
	return &testEngine{Engine: e, mock: mock, redis: mr, sink: sink}
}

func (te *testEngine) accessToken(t *testing.T, role permission.Role) string {
	t.Helper()
	tok, err := te.jwtManager.IssueAccess(jwt.AccessInput{
		UserID:    testUser,
		Email:     "dr.lee@brightsmiles.example",
		Role:      string(role),
		TenantID:  testTenant,
		SessionID: testSession,
	})
	require.NoError(t, err)
	return tok
}

func TestBuildRequirements(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err = New().WithConfig(testEngineConfig()).WithRedis(rdb).Build()
	assert.EqualError(t, err, "database pool required")

	_, err = New().WithConfig(testEngineConfig()).WithDB(mock).Build()
	assert.EqualError(t, err, "redis client required")

	_, err = New().WithDB(mock).WithRedis(rdb).Build()
	assert.ErrorContains(t, err, "hs256 requires")

	b := New().WithConfig(testEngineConfig()).WithDB(mock).WithRedis(rdb)
	e, err := b.Build()
	require.NoError(t, err)
	defer e.Close()
	_, err = b.Build()
	assert.EqualError(t, err, "builder already used")
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	_, err := e.Login(ctx, LoginRequest{Email: "a@b.example", Password: "x"})
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, err = e.Refresh(ctx, "token")
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, err = e.Validate(ctx, "token", ModeStrict)
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, err = e.ListSessions(ctx, &AuthResult{UserID: testUser, TenantID: testTenant})
	assert.ErrorIs(t, err, ErrEngineNotReady)
	assert.False(t, e.Health(ctx).Healthy())
	assert.Zero(t, e.AuditDropped())
	assert.Empty(t, e.MetricsSnapshot().Counters)
}

func TestResolveRouteMode(t *testing.T) {
	te := newTestEngine(t)

	mode, err := te.resolveRouteMode(ModeInherit)
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, mode)

	mode, err = te.resolveRouteMode(ModeJWTOnly)
	require.NoError(t, err)
	assert.Equal(t, ModeJWTOnly, mode)

	_, err = te.resolveRouteMode(RouteMode(7))
	assert.ErrorIs(t, err, ErrInvalidRouteMode)
}

func TestValidateJWTOnly(t *testing.T) {
	te := newTestEngine(t)
	tok := te.accessToken(t, permission.RoleDentist)

	res, err := te.Validate(context.Background(), tok, ModeJWTOnly)
	require.NoError(t, err)
	assert.Equal(t, testUser, res.UserID)
	assert.Equal(t, testTenant, res.TenantID)
	assert.Equal(t, testSession, res.SessionID)
	assert.Equal(t, permission.RoleDentist, res.Role)
	assert.True(t, res.Can(permission.CapViewPatients))
	assert.False(t, res.Can(permission.CapManageUsers))
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), res.ExpiresAt, time.Minute)
	require.NoError(t, te.mock.ExpectationsWereMet())
}

func TestValidateRejectsOtherTenant(t *testing.T) {
	te := newTestEngine(t)
	tok := te.accessToken(t, permission.RoleAdmin)

	_, err := te.Validate(WithTenantID(context.Background(), otherTenant), tok, ModeJWTOnly)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 403, HTTPStatus(err))
}

func TestValidateGarbage(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.Validate(context.Background(), "not.a.jwt", ModeJWTOnly)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateStrictRevokedSession(t *testing.T) {
	te := newTestEngine(t)
	tok := te.accessToken(t, permission.RoleHygienist)

	te.mock.ExpectBegin()
	te.mock.ExpectExec("SELECT set_config").
		WithArgs(testTenant).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	te.mock.ExpectQuery("FROM user_sessions WHERE id").
		WithArgs(testSession).
		WillReturnError(pgx.ErrNoRows)
	te.mock.ExpectRollback()

	_, err := te.Validate(context.Background(), tok, ModeStrict)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.Equal(t, "Session is no longer active", Reason(err))
	require.NoError(t, te.mock.ExpectationsWereMet())

	snap := te.MetricsSnapshot()
	var observed uint64
	for _, n := range snap.Histograms[MetricValidateLatency] {
		observed += n
	}
	assert.Equal(t, uint64(1), observed)
}

func TestValidateStrictDatabaseFailure(t *testing.T) {
	te := newTestEngine(t)
	tok := te.accessToken(t, permission.RoleHygienist)

	te.mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := te.Validate(context.Background(), tok, ModeStrict)
	require.Error(t, err)
	assert.Equal(t, 500, HTTPStatus(err))
}

func TestRefreshGarbageToken(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.Refresh(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricRefreshFailure])
}

func TestCallerScope(t *testing.T) {
	te := newTestEngine(t)
	auth := &AuthResult{UserID: testUser, TenantID: testTenant, SessionID: testSession, Role: permission.RoleDentist}

	_, err := te.ListSessions(WithTenantID(context.Background(), otherTenant), auth)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = te.ListSessions(context.Background(), &AuthResult{TenantID: testTenant})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = te.ListUserSessions(context.Background(), auth, "someone-else")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, "Permission required: manage_sessions", Reason(err))

	_, err = te.ForceLogout(context.Background(), auth, "someone-else", "left the practice")
	assert.ErrorIs(t, err, ErrForbidden)
	require.NoError(t, te.mock.ExpectationsWereMet())
}

func TestHealth(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.mock.ExpectPing()
	h := te.Health(ctx)
	assert.True(t, h.Healthy())

	te.mock.ExpectPing().WillReturnError(errors.New("down"))
	te.redis.Close()
	h = te.Health(ctx)
	assert.False(t, h.DatabaseAvailable)
	assert.False(t, h.RedisAvailable)
}

func TestEmitAuditStampsEvents(t *testing.T) {
	te := newTestEngine(t)
	ctx := WithClientIP(context.Background(), "198.51.100.7")

	te.emitAudit(ctx, AuditEvent{EventType: "probe"})
	select {
	case ev := <-te.sink.Events():
		assert.Equal(t, "probe", ev.EventType)
		assert.Equal(t, Severity("info"), ev.Severity)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("audit event not delivered")
	}
}
