package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/clinicauth/eligibility"
	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/internal/rate"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginSuccessIssuesTenantBoundSession(t *testing.T) {
	w := newWorld()

	res, err := w.login("  Alice@Acme.test ", "Correct-Horse-7!")
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, aliceID, res.UserID)
	assert.Equal(t, acmeID, res.TenantID)
	assert.Equal(t, "bearer", res.TokenType)
	assert.Equal(t, 15*time.Minute, res.ExpiresIn)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	sess := w.sessions[res.SessionID]
	require.NotNil(t, sess)
	assert.Equal(t, acmeID, sess.TenantID)
	assert.Equal(t, fixedNow.Add(8*time.Hour), sess.ExpiresAt)

	claims, err := w.parseRefresh(res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, claims.SessionID)

	assert.Equal(t, []attempt{{acmeID, aliceID, true}}, w.attempts)
	assert.Equal(t, 1, w.metrics[1])
	assert.Equal(t, []string{audit.EventLoginSuccess}, w.eventTypes())
}

func TestLoginUnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	w := newWorld()
	verified := 0
	deps := w.loginDeps()
	verify := deps.VerifyPassword
	deps.VerifyPassword = func(p, h string) (bool, error) {
		verified++
		return verify(p, h)
	}

	_, errUnknown := RunLogin(context.Background(), LoginRequest{Email: "nobody@acme.test", Password: "x"}, deps)
	_, errWrong := RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: "x"}, deps)

	assert.ErrorIs(t, errUnknown, errInvalidCreds)
	assert.ErrorIs(t, errWrong, errInvalidCreds)
	assert.Equal(t, 2, verified, "unknown email must still cost one hash verification")
	assert.Equal(t, 1, w.failures(aliceID))
}

func TestLoginInputValidation(t *testing.T) {
	w := newWorld()
	cases := []LoginRequest{
		{Email: "", Password: "x"},
		{Email: "not-an-email", Password: "x"},
		{Email: "alice@acme.test", Password: ""},
	}
	for _, req := range cases {
		res, err := RunLogin(context.Background(), req, w.loginDeps())
		assert.ErrorIs(t, err, errInvalidInput)
		assert.Equal(t, StateValidatingInput, res.State)
	}
	assert.Empty(t, w.attempts)
}

func TestLoginRateLimiting(t *testing.T) {
	w := newWorld()
	w.limitErr = rate.ErrRateLimited
	_, err := w.login("alice@acme.test", "Correct-Horse-7!")
	assert.ErrorIs(t, err, errRateLimited)
	assert.Equal(t, 1, w.metrics[3])

	// A limiter outage must not lock everybody out.
	w.limitErr = rate.ErrRedisUnavailable
	_, err = w.login("alice@acme.test", "Correct-Horse-7!")
	assert.NoError(t, err)
}

func TestLoginLockedAccountReportsLockEvenWithWrongPassword(t *testing.T) {
	w := newWorld()
	w.lock = limiters.LockStatus{Allowed: false, Reason: user.LockReasonFailedAttempts, RetryAfter: 10 * time.Minute}

	for _, pw := range []string{"Correct-Horse-7!", "wrong"} {
		res, err := w.login("alice@acme.test", pw)
		assert.ErrorIs(t, err, errLocked)
		assert.Equal(t, StateCheckingSecurity, res.State)
	}
	assert.Equal(t, 2, w.failures(aliceID))
	assert.Empty(t, w.sessions)

	w.lock = limiters.LockStatus{Allowed: false, Reason: user.LockReasonSuspicious}
	_, err := w.login("alice@acme.test", "Correct-Horse-7!")
	assert.ErrorIs(t, err, errSuspicious)
}

// worldAttempts and worldLocks back a real LockoutMonitor with the fake world.
type worldAttempts struct{ w *world }

func (a worldAttempts) Append(_ context.Context, at limiters.Attempt) error {
	a.w.attempts = append(a.w.attempts, attempt{at.TenantID, at.UserID, at.Success})
	return nil
}

func (a worldAttempts) CountFailures(_ context.Context, userID string, _ time.Time) (int, error) {
	return a.w.failures(userID), nil
}

type worldLocks struct{ w *world }

func (l worldLocks) SetLockout(_ context.Context, userID string, state user.LockoutState) error {
	l.w.updateUser(userID, func(u *user.User) { u.Lockout = state })
	return nil
}

func (l worldLocks) ClearLockout(_ context.Context, userID string) error {
	l.w.updateUser(userID, func(u *user.User) { u.Lockout = user.LockoutState{} })
	return nil
}

func TestLoginFiveFailuresLockBeforeCorrectPassword(t *testing.T) {
	w := newWorld()
	var locks []limiters.LockEvent
	monitor := limiters.NewLockoutMonitor(worldAttempts{w}, worldLocks{w}, limiters.DefaultLockoutConfig(),
		func(_ context.Context, ev limiters.LockEvent) { locks = append(locks, ev) })
	deps := w.loginDeps()
	deps.CheckLockout = monitor.CheckLockout
	deps.RecordAttempt = monitor.RecordAttempt
	login := func(pw string) (LoginResult, error) {
		return RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: pw, IP: "10.0.0.1"}, deps)
	}

	for i := 0; i < 5; i++ {
		_, err := login("wrong-password")
		require.ErrorIs(t, err, errInvalidCreds, "attempt %d", i+1)
	}
	require.Len(t, locks, 1)
	assert.Equal(t, user.LockReasonFailedAttempts, locks[0].Reason)
	assert.Equal(t, 5, locks[0].Failures)

	res, err := login("Correct-Horse-7!")
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, StateCheckingSecurity, res.State)
	assert.Empty(t, res.AccessToken)
	assert.Empty(t, w.sessions)
}

func TestLoginTenantEligibility(t *testing.T) {
	cases := []struct {
		kind eligibility.Kind
		want error
	}{
		{eligibility.KindForbidden, errSuspended},
		{eligibility.KindGone, errCancelled},
		{eligibility.KindPaymentRequired, errPayment},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			w := newWorld()
			w.decision = eligibility.Decision{Kind: tc.kind, Reason: "nope"}
			res, err := w.login("alice@acme.test", "Correct-Horse-7!")
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, StateCheckingTenantEligibility, res.State)
			assert.Empty(t, w.sessions)
			assert.Equal(t, 1, w.failures(aliceID))
		})
	}
}

func TestLoginUserEligibility(t *testing.T) {
	cases := []struct {
		name  string
		reset user.ResetFlags
		want  error
	}{
		{"first login", user.ResetFlags{FirstLogin: true}, errResetRequired},
		{"temporary password", user.ResetFlags{TemporaryPassword: true}, errResetRequired},
		{"force reset", user.ResetFlags{ForceReset: true}, errResetRequired},
		{"reauth", user.ResetFlags{RequireReauth: true}, errForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newWorld()
			w.updateUser(aliceID, func(u *user.User) { u.Reset = tc.reset })
			res, err := w.login("alice@acme.test", "Correct-Horse-7!")
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, StateCheckingUserEligibility, res.State)
			assert.Empty(t, w.sessions)
		})
	}
}

func TestLoginInactiveUserLoadedByIDIsForbidden(t *testing.T) {
	w := newWorld()
	deps := w.loginDeps()
	// The identity lookup saw the user active; it was deactivated since.
	deps.GetUser = func(ctx context.Context, id string) (user.User, error) {
		u, err := w.getUser(ctx, id)
		u.IsActive = false
		return u, err
	}
	_, err := RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: "Correct-Horse-7!"}, deps)
	assert.ErrorIs(t, err, errForbidden)
}

func TestLoginTenantScoping(t *testing.T) {
	w := newWorld()
	deps := w.loginDeps()

	res, err := RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: "Correct-Horse-7!", TenantSlug: "acme"}, deps)
	require.NoError(t, err)
	assert.Equal(t, acmeID, res.TenantID)

	res, err = RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: "Correct-Horse-7!", TenantSlug: "smile"}, deps)
	assert.ErrorIs(t, err, errForbidden)
	assert.Equal(t, StateVerifyingTenantMembership, res.State)

	_, err = RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: "Correct-Horse-7!", TenantSlug: "nowhere"}, deps)
	assert.ErrorIs(t, err, errTenantNotFound)

	closed := w.tenants[smileID]
	closed.IsActive = false
	w.tenants[smileID] = closed
	_, err = RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: "Correct-Horse-7!", TenantSlug: "smile"}, deps)
	assert.ErrorIs(t, err, errTenantInactive)
}

func TestLoginExpiredPasswordIsSoftFlag(t *testing.T) {
	w := newWorld()
	changed := fixedNow.Add(-120 * 24 * time.Hour)
	w.updateUser(aliceID, func(u *user.User) { u.PasswordChangedAt = &changed })

	res, err := w.login("alice@acme.test", "Correct-Horse-7!")
	require.NoError(t, err)
	assert.True(t, res.PasswordResetRequired)
	assert.NotEmpty(t, res.AccessToken)
}

func TestLoginSessionFailureLeavesNoSession(t *testing.T) {
	w := newWorld()
	deps := w.loginDeps()
	deps.CreateSession = func(context.Context, session.NewSession, string, time.Time) (string, error) {
		return "", errors.New("insert failed")
	}
	res, err := RunLogin(context.Background(), LoginRequest{Email: "alice@acme.test", Password: "Correct-Horse-7!"}, deps)
	require.Error(t, err)
	assert.Equal(t, StateIssuingTokens, res.State)
	assert.Empty(t, res.AccessToken)
	assert.Equal(t, 1, w.failures(aliceID))
}

func TestLoginNotReady(t *testing.T) {
	_, err := RunLogin(context.Background(), LoginRequest{}, LoginDeps{Errors: LoginErrors{EngineNotReady: errNotReady}})
	assert.ErrorIs(t, err, errNotReady)
}
