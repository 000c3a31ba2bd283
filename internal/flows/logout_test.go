package flows

import (
	"context"
	"testing"

	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callerOf(lr LoginResult) Caller {
	return Caller{UserID: lr.UserID, TenantID: lr.TenantID, SessionID: lr.SessionID, IP: "10.0.0.1"}
}

func bound(id string) context.Context {
	return tenant.WithID(context.Background(), id)
}

func TestLogoutRevokesSessionOfRefreshToken(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)
	b := loggedIn(t, w)

	out, err := RunLogout(bound(acmeID), callerOf(a), b.RefreshToken, w.sessionDeps())
	require.NoError(t, err)
	assert.Equal(t, session.Revoked{Sessions: 1, Tokens: 1}, out)
	assert.False(t, w.sessions[b.SessionID].IsActive)
	assert.Equal(t, session.ReasonUserLogout, w.sessions[b.SessionID].LogoutReason)
	assert.True(t, w.sessions[a.SessionID].IsActive)

	res := RunRefresh(context.Background(), b.RefreshToken, w.refreshDeps(false))
	assert.Equal(t, RefreshFailureRevoked, res.Failure)
}

func TestLogoutFallsBackToBearerSession(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)

	out, err := RunLogout(bound(acmeID), callerOf(a), "garbage", w.sessionDeps())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sessions)
	assert.False(t, w.sessions[a.SessionID].IsActive)
}

func TestLogoutRejectsAnotherUsersToken(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)
	intruder := Caller{UserID: "someone-else", TenantID: acmeID, SessionID: "x"}

	_, err := RunLogout(bound(acmeID), intruder, a.RefreshToken, w.sessionDeps())
	assert.ErrorIs(t, err, errForbidden)
	assert.True(t, w.sessions[a.SessionID].IsActive)
}

func TestLogoutAllAndRevokeOthers(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)
	b := loggedIn(t, w)
	c := loggedIn(t, w)

	out, err := RunRevokeOthers(bound(acmeID), callerOf(a), w.sessionDeps())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Sessions)
	assert.True(t, w.sessions[a.SessionID].IsActive)
	assert.False(t, w.sessions[b.SessionID].IsActive)
	assert.False(t, w.sessions[c.SessionID].IsActive)

	out, err = RunLogoutAll(bound(acmeID), callerOf(a), false, w.sessionDeps())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sessions)
	assert.False(t, w.sessions[a.SessionID].IsActive)

	types := w.eventTypes()
	assert.Contains(t, types, audit.EventSessionRevoked)
	assert.Contains(t, types, audit.EventLogoutAll)
}

func TestLogoutAllKeepCurrent(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)
	loggedIn(t, w)

	out, err := RunLogoutAll(bound(acmeID), callerOf(a), true, w.sessionDeps())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sessions)
	assert.True(t, w.sessions[a.SessionID].IsActive)
}

func TestListSessionsMarksCurrent(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)
	loggedIn(t, w)

	list, err := RunListSessions(bound(acmeID), callerOf(a), w.sessionDeps())
	require.NoError(t, err)
	require.Len(t, list, 2)
	current := 0
	for _, s := range list {
		if s.IsCurrent {
			current++
			assert.Equal(t, a.SessionID, s.SessionID)
		}
	}
	assert.Equal(t, 1, current)
}

func TestRevokeSession(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)
	b := loggedIn(t, w)
	deps := w.sessionDeps()

	_, err := RunRevokeSession(bound(acmeID), callerOf(a), a.SessionID, deps)
	assert.ErrorIs(t, err, errInvalidInput)

	_, err = RunRevokeSession(bound(acmeID), callerOf(a), "missing", deps)
	assert.ErrorIs(t, err, errSessionMissing)

	out, err := RunRevokeSession(bound(acmeID), callerOf(a), b.SessionID, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sessions)
	assert.Equal(t, session.ReasonRevokedByUser, w.sessions[b.SessionID].LogoutReason)

	_, err = RunRevokeSession(bound(acmeID), callerOf(a), b.SessionID, deps)
	assert.ErrorIs(t, err, errSessionMissing)
}

func TestAdminSessionManagementStaysInTenant(t *testing.T) {
	w := newWorld()
	a := loggedIn(t, w)
	admin := Caller{UserID: bobID, TenantID: smileID, SessionID: "bob-session"}

	// Bob administers smile; alice belongs to acme.
	_, err := RunListUserSessions(bound(smileID), aliceID, w.sessionDeps())
	assert.ErrorIs(t, err, errUserMissing)
	_, err = RunForceLogout(bound(smileID), admin, aliceID, "offboarding", w.sessionDeps())
	assert.ErrorIs(t, err, errUserMissing)
	assert.True(t, w.sessions[a.SessionID].IsActive)

	acmeAdmin := Caller{UserID: "acme-admin", TenantID: acmeID}
	list, err := RunListUserSessions(bound(acmeID), aliceID, w.sessionDeps())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	out, err := RunForceLogout(bound(acmeID), acmeAdmin, aliceID, "offboarding", w.sessionDeps())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Sessions)
	assert.Equal(t, session.ReasonAdminForceLogout, w.sessions[a.SessionID].LogoutReason)

	last := w.events[len(w.events)-1]
	assert.Equal(t, audit.EventForceLogout, last.EventType)
	assert.Equal(t, audit.SeverityHigh, last.Severity)
	assert.Equal(t, "acme-admin", last.Metadata["admin_id"])
	assert.Equal(t, "offboarding", last.Metadata["reason"])
}
