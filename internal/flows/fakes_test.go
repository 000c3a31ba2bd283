package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/clinicauth/eligibility"
	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
)

const (
	acmeID  = "0b5f8c1e-8a6f-4c1e-9a52-3f3d2a1c0001"
	smileID = "0b5f8c1e-8a6f-4c1e-9a52-3f3d2a1c0002"
	aliceID = "a11ce000-0000-4000-8000-000000000001"
	bobID   = "b0b00000-0000-4000-8000-000000000002"
)

var (
	fixedNow = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

	errNotReady       = errors.New("not ready")
	errInvalidInput   = errors.New("invalid input")
	errInvalidCreds   = errors.New("invalid credentials")
	errRateLimited    = errors.New("rate limited")
	errTenantNotFound = errors.New("tenant not found")
	errTenantInactive = errors.New("tenant inactive")
	errSuspended      = errors.New("tenant suspended")
	errCancelled      = errors.New("tenant cancelled")
	errPayment        = errors.New("payment required")
	errLocked         = errors.New("account locked")
	errSuspicious     = errors.New("suspicious activity")
	errForbidden      = errors.New("forbidden")
	errResetRequired  = errors.New("password reset required")
	errSessionMissing = errors.New("session not found")
	errUserMissing    = errors.New("user not found")
	errPolicy         = errors.New("password policy")
	errReuse          = errors.New("password reuse")
	errResetToken     = errors.New("reset token invalid")
	errEmailTaken     = errors.New("email taken")
)

// world is an in-memory clinic: tenants, users, sessions and refresh
// tokens. Every tenant-scoped accessor insists on a bound tenant and only
// sees that tenant's rows, like the row-level security policy.
type world struct {
	mu sync.Mutex

	tenants  map[string]tenant.Tenant
	users    map[string]user.User
	hashes   map[string]string // plaintext by hash, so verify stays cheap
	sessions map[string]*session.Session
	tokens   map[string]*fakeToken
	attempts []attempt
	history  map[string][]user.PasswordHistoryEntry
	resets   map[string]*resetToken

	events   []audit.Event
	metrics  map[int]int
	nextID   int
	lock     limiters.LockStatus
	decision eligibility.Decision
	limitErr error
}

type attempt struct {
	tenantID, userID string
	success          bool
}

type fakeToken struct {
	session.RefreshToken
	TenantID string
}

type resetToken struct {
	tenantID, userID string
	expiresAt        time.Time
	used             bool
}

func newWorld() *world {
	w := &world{
		tenants: map[string]tenant.Tenant{
			acmeID:  {ID: acmeID, Slug: "acme", Name: "Acme Dental", Status: tenant.StatusActive, IsActive: true},
			smileID: {ID: smileID, Slug: "smile", Name: "Smile Clinic", Status: tenant.StatusActive, IsActive: true},
		},
		users:    map[string]user.User{},
		hashes:   map[string]string{},
		sessions: map[string]*session.Session{},
		tokens:   map[string]*fakeToken{},
		history:  map[string][]user.PasswordHistoryEntry{},
		resets:   map[string]*resetToken{},
		metrics:  map[int]int{},
		lock:     limiters.LockStatus{Allowed: true},
		decision: eligibility.Decision{Allowed: true},
	}
	w.addUser(user.User{ID: aliceID, TenantID: acmeID, Email: "alice@acme.test", Role: permission.RoleDentist, IsActive: true}, "Correct-Horse-7!")
	w.addUser(user.User{ID: bobID, TenantID: smileID, Email: "bob@smile.test", Role: permission.RoleAdmin, IsActive: true}, "Battery-Staple-9?")
	return w
}

func (w *world) addUser(u user.User, plain string) {
	u.PasswordHash = "hash:" + plain
	w.hashes[u.PasswordHash] = plain
	w.users[u.ID] = u
}

func (w *world) updateUser(id string, fn func(*user.User)) {
	u := w.users[id]
	fn(&u)
	w.users[id] = u
}

func (w *world) id(prefix string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	return fmt.Sprintf("%s-%d", prefix, w.nextID)
}

func (w *world) scope(ctx context.Context) (string, error) {
	return tenant.MustID(ctx)
}

func (w *world) verify(plain, hash string) (bool, error) {
	if hash == "" {
		return false, errors.New("empty hash")
	}
	stored, ok := w.hashes[hash]
	return ok && stored == plain, nil
}

func (w *world) hash(plain string) (string, error) {
	h := "hash:" + plain
	w.hashes[h] = plain
	return h, nil
}

func (w *world) lookupIdentity(_ context.Context, email string) (user.Identity, error) {
	for _, u := range w.users {
		if u.Email == email && u.IsActive {
			return user.Identity{UserID: u.ID, TenantID: u.TenantID}, nil
		}
	}
	return user.Identity{}, user.ErrNotFound
}

func (w *world) getUser(ctx context.Context, id string) (user.User, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tid, err := w.scope(ctx)
	if err != nil {
		return user.User{}, err
	}
	u, ok := w.users[id]
	if !ok || u.TenantID != tid {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (w *world) getTenant(_ context.Context, id string) (tenant.Tenant, error) {
	t, ok := w.tenants[id]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return t, nil
}

func (w *world) resolveSlug(_ context.Context, slug string) (tenant.Tenant, error) {
	for _, t := range w.tenants {
		if t.Slug == slug {
			if !t.IsActive {
				return tenant.Tenant{}, tenant.ErrInactive
			}
			return t, nil
		}
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}

func (w *world) recordAttempt(_ context.Context, tenantID, userID string, success bool, _, _ string) error {
	w.attempts = append(w.attempts, attempt{tenantID, userID, success})
	return nil
}

func (w *world) failures(userID string) int {
	n := 0
	for _, a := range w.attempts {
		if a.userID == userID && !a.success {
			n++
		}
	}
	return n
}

func (w *world) createSession(ctx context.Context, ns session.NewSession, jti string, tokenExpiresAt time.Time) (string, error) {
	tid, err := w.scope(ctx)
	if err != nil {
		return "", err
	}
	if tid != ns.TenantID {
		return "", errors.New("row violates tenant policy")
	}
	w.sessions[ns.ID] = &session.Session{
		ID: ns.ID, UserID: ns.UserID, TenantID: ns.TenantID,
		IPAddress: ns.IPAddress, UserAgent: ns.UserAgent, Device: ns.Device,
		LoginTime: ns.LoginTime, LastActivity: ns.LoginTime, ExpiresAt: ns.ExpiresAt, IsActive: true,
	}
	w.tokens[jti] = &fakeToken{RefreshToken: session.RefreshToken{ID: jti, UserID: ns.UserID, SessionID: ns.ID, ExpiresAt: tokenExpiresAt}, TenantID: ns.TenantID}
	return ns.ID, nil
}

func (w *world) tenantOfToken(_ context.Context, jti string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tokens[jti]
	if !ok {
		return "", session.ErrTokenRevoked
	}
	return t.TenantID, nil
}

func (w *world) verifyToken(ctx context.Context, jti, userID string) (bool, error) {
	tid, err := w.scope(ctx)
	if err != nil {
		return false, err
	}
	t, ok := w.tokens[jti]
	return ok && t.TenantID == tid && t.UserID == userID && !t.IsRevoked && fixedNow.Before(t.ExpiresAt), nil
}

func (w *world) getSession(ctx context.Context, id string) (session.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tid, err := w.scope(ctx)
	if err != nil {
		return session.Session{}, err
	}
	s, ok := w.sessions[id]
	if !ok || s.TenantID != tid {
		return session.Session{}, session.ErrSessionNotFound
	}
	return *s, nil
}

func (w *world) rotate(ctx context.Context, oldJTI, newJTI, userID, sessionID string, expiresAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	tid, err := w.scope(ctx)
	if err != nil {
		return err
	}
	old, ok := w.tokens[oldJTI]
	if !ok || old.IsRevoked {
		return session.ErrTokenRevoked
	}
	old.IsRevoked = true
	w.tokens[newJTI] = &fakeToken{RefreshToken: session.RefreshToken{ID: newJTI, UserID: userID, SessionID: sessionID, ExpiresAt: expiresAt}, TenantID: tid}
	return nil
}

func (w *world) touch(context.Context, string) error { return nil }

func (w *world) revokeToken(_ context.Context, jti string) (bool, error) {
	t, ok := w.tokens[jti]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (w *world) revokeSession(ctx context.Context, sessionID, userID, reason string) (session.Revoked, error) {
	tid, err := w.scope(ctx)
	if err != nil {
		return session.Revoked{}, err
	}
	var out session.Revoked
	s, ok := w.sessions[sessionID]
	if !ok || s.TenantID != tid || s.UserID != userID || !s.IsActive {
		return out, nil
	}
	s.IsActive, s.LogoutReason = false, reason
	out.Sessions = 1
	for _, t := range w.tokens {
		if t.SessionID == sessionID && !t.IsRevoked {
			t.IsRevoked = true
			out.Tokens++
		}
	}
	return out, nil
}

func (w *world) revokeAll(ctx context.Context, userID, exclude, reason string) (session.Revoked, error) {
	tid, err := w.scope(ctx)
	if err != nil {
		return session.Revoked{}, err
	}
	var out session.Revoked
	for _, s := range w.sessions {
		if s.TenantID != tid || s.UserID != userID || !s.IsActive || s.ID == exclude {
			continue
		}
		s.IsActive, s.LogoutReason = false, reason
		out.Sessions++
		for _, t := range w.tokens {
			if t.SessionID == s.ID && !t.IsRevoked {
				t.IsRevoked = true
				out.Tokens++
			}
		}
	}
	return out, nil
}

func (w *world) listActive(ctx context.Context, userID string) ([]session.SessionInfo, error) {
	tid, err := w.scope(ctx)
	if err != nil {
		return nil, err
	}
	var out []session.SessionInfo
	for _, s := range w.sessions {
		if s.TenantID == tid && s.UserID == userID && s.IsActive {
			out = append(out, session.SessionInfo{SessionID: s.ID, IPAddress: s.IPAddress, LoginTime: s.LoginTime})
		}
	}
	return out, nil
}

func (w *world) emit(_ context.Context, e audit.Event) { w.events = append(w.events, e) }

func (w *world) eventTypes() []string {
	out := make([]string, 0, len(w.events))
	for _, e := range w.events {
		out = append(out, e.EventType)
	}
	return out
}

func (w *world) tokenDeps() TokenDeps {
	return TokenDeps{
		NewSessionID: func() string { return w.id("sess") },
		IssueAccess: func(in jwt.AccessInput) (string, error) {
			return fmt.Sprintf("access:%s:%s:%s:%d", in.UserID, in.TenantID, in.SessionID, in.LoginTime.Unix()), nil
		},
		IssueRefresh: func(userID, sessionID string) (jwt.IssuedRefresh, error) {
			jti := w.id("jti")
			return jwt.IssuedRefresh{Token: "refresh:" + jti, JTI: jti, ExpiresAt: fixedNow.Add(7 * 24 * time.Hour)}, nil
		},
		AccessTTL:  15 * time.Minute,
		SessionTTL: 8 * time.Hour,
	}
}

// parseRefresh understands the tokens minted by tokenDeps.
func (w *world) parseRefresh(tok string) (*jwt.RefreshClaims, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var jti string
	if _, err := fmt.Sscanf(tok, "refresh:%s", &jti); err != nil {
		return nil, jwt.ErrTokenInvalid
	}
	t, ok := w.tokens[jti]
	if !ok {
		return nil, jwt.ErrTokenInvalid
	}
	c := &jwt.RefreshClaims{SessionID: t.SessionID, Type: "refresh"}
	c.ID, c.Subject = jti, t.UserID
	return c, nil
}

func denyWith(sentinel error, _ string, _ time.Duration) error { return sentinel }

func (w *world) loginDeps() LoginDeps {
	return LoginDeps{
		Now:               func() time.Time { return fixedNow },
		AllowLogin:        func(context.Context, string) (time.Duration, error) { return 0, w.limitErr },
		ResolveTenantSlug: w.resolveSlug,
		GetTenant:         w.getTenant,
		LookupIdentity:    w.lookupIdentity,
		GetUser:           w.getUser,
		VerifyPassword:    w.verify,
		DummyHash:         "hash:dummy",
		CheckLockout: func(context.Context, string, user.User, string) (limiters.LockStatus, error) {
			return w.lock, nil
		},
		RecordAttempt:   w.recordAttempt,
		CanAuthenticate: func(context.Context, tenant.Tenant) eligibility.Decision { return w.decision },
		PasswordExpired: func(changedAt, now time.Time) bool { return now.Sub(changedAt) > 90*24*time.Hour },
		CreateSession:   w.createSession,
		Tokens:          w.tokenDeps(),
		Deny:            denyWith,
		MetricInc:       func(id int) { w.metrics[id]++ },
		EmitAudit:       w.emit,
		Metrics:         LoginMetrics{LoginSuccess: 1, LoginFailure: 2, LoginRateLimited: 3, AccountLocked: 4, SessionCreated: 5},
		Errors: LoginErrors{
			EngineNotReady:        errNotReady,
			InvalidInput:          errInvalidInput,
			InvalidCredentials:    errInvalidCreds,
			LoginRateLimited:      errRateLimited,
			TenantNotFound:        errTenantNotFound,
			TenantInactive:        errTenantInactive,
			TenantSuspended:       errSuspended,
			TenantCancelled:       errCancelled,
			PaymentRequired:       errPayment,
			AccountLocked:         errLocked,
			SuspiciousActivity:    errSuspicious,
			Forbidden:             errForbidden,
			PasswordResetRequired: errResetRequired,
		},
	}
}

func (w *world) refreshDeps(rotate bool) RefreshDeps {
	return RefreshDeps{
		Now:                func() time.Time { return fixedNow },
		ParseRefresh:       w.parseRefresh,
		TenantOfToken:      w.tenantOfToken,
		VerifyRefreshToken: w.verifyToken,
		GetSession:         w.getSession,
		GetUser:            w.getUser,
		RotateRefreshToken: w.rotate,
		TouchSession:       w.touch,
		Rotate:             rotate,
		Tokens:             w.tokenDeps(),
	}
}

func (w *world) sessionDeps() SessionDeps {
	return SessionDeps{
		ParseRefresh:       w.parseRefresh,
		RevokeToken:        w.revokeToken,
		RevokeSession:      w.revokeSession,
		RevokeAllForUser:   w.revokeAll,
		ListActiveSessions: w.listActive,
		GetUser:            w.getUser,
		EmitAudit:          w.emit,
		Errors: SessionErrors{
			EngineNotReady:  errNotReady,
			InvalidInput:    errInvalidInput,
			Forbidden:       errForbidden,
			SessionNotFound: errSessionMissing,
			UserNotFound:    errUserMissing,
		},
	}
}

// login signs alice in and returns the result.
func (w *world) login(email, plain string) (LoginResult, error) {
	return RunLogin(context.Background(), LoginRequest{Email: email, Password: plain, IP: "10.0.0.1", UserAgent: "Mozilla/5.0"}, w.loginDeps())
}
