package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/clinicauth/eligibility"
	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/internal/rate"
	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
	"go.uber.org/zap"
)

// LoginState is one step of the login state machine.
type LoginState string

const (
	StateValidatingInput           LoginState = "validating_input"
	StateResolvingTenant           LoginState = "resolving_tenant"
	StateAuthenticatingCredentials LoginState = "authenticating_credentials"
	StateCheckingSecurity          LoginState = "checking_security"
	StateCheckingTenantEligibility LoginState = "checking_tenant_eligibility"
	StateCheckingUserEligibility   LoginState = "checking_user_eligibility"
	StateVerifyingTenantMembership LoginState = "verifying_tenant_membership"
	StateIssuingTokens             LoginState = "issuing_tokens"
	StateRecordingOutcome          LoginState = "recording_outcome"
	StateDone                      LoginState = "done"
)

// LoginRequest is the input of RunLogin.
type LoginRequest struct {
	Email      string
	Password   string
	TenantSlug string
	IP         string
	UserAgent  string
}

// LoginResult is the flow-local login response. State is the last state
// the machine entered, on success and on failure.
type LoginResult struct {
	State                 LoginState
	UserID                string
	TenantID              string
	Role                  permission.Role
	SessionID             string
	AccessToken           string
	RefreshToken          string
	TokenType             string
	ExpiresIn             time.Duration
	PasswordResetRequired bool
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	AccountLocked    int
	SessionCreated   int
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady        error
	InvalidInput          error
	InvalidCredentials    error
	LoginRateLimited      error
	TenantNotFound        error
	TenantInactive        error
	TenantSuspended       error
	TenantCancelled       error
	PaymentRequired       error
	AccountLocked         error
	SuspiciousActivity    error
	Forbidden             error
	PasswordResetRequired error
}

// TokenDeps issues the token pair of a session.
type TokenDeps struct {
	NewSessionID func() string
	IssueAccess  func(jwt.AccessInput) (string, error)
	IssueRefresh func(userID, sessionID string) (jwt.IssuedRefresh, error)
	AccessTTL    time.Duration
	SessionTTL   time.Duration
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Now func() time.Time

	AllowLogin        func(ctx context.Context, ip string) (time.Duration, error)
	ResolveTenantSlug func(ctx context.Context, slug string) (tenant.Tenant, error)
	GetTenant         func(ctx context.Context, tenantID string) (tenant.Tenant, error)
	LookupIdentity    func(ctx context.Context, email string) (user.Identity, error)
	GetUser           func(ctx context.Context, userID string) (user.User, error)
	VerifyPassword    func(password, encodedHash string) (bool, error)
	// DummyHash is verified against when the email is unknown, so both
	// credential failures cost one hash verification.
	DummyHash string

	CheckLockout    func(ctx context.Context, tenantID string, u user.User, ip string) (limiters.LockStatus, error)
	RecordAttempt   func(ctx context.Context, tenantID, userID string, success bool, ip, userAgent string) error
	CanAuthenticate func(ctx context.Context, t tenant.Tenant) eligibility.Decision
	PasswordExpired func(changedAt, now time.Time) bool

	CreateSession func(ctx context.Context, ns session.NewSession, jti string, tokenExpiresAt time.Time) (string, error)
	DeviceInfo    func(userAgent string) session.DeviceInfo
	RecordLogin   func(ctx context.Context, userID string, at time.Time) error
	Tokens        TokenDeps

	Deny      func(sentinel error, reason string, retryAfter time.Duration) error
	MetricInc func(int)
	EmitAudit func(context.Context, audit.Event)
	Warn      func(string, ...zap.Field)

	Metrics LoginMetrics
	Errors  LoginErrors
}

func (d *LoginDeps) fill() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, audit.Event) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, ...zap.Field) {}
	}
	if d.Deny == nil {
		d.Deny = func(sentinel error, _ string, _ time.Duration) error { return sentinel }
	}
	if d.DeviceInfo == nil {
		d.DeviceInfo = func(string) session.DeviceInfo { return session.DeviceInfo{} }
	}
}

func (d *LoginDeps) ready() bool {
	return d.LookupIdentity != nil &&
		d.GetUser != nil &&
		d.GetTenant != nil &&
		d.VerifyPassword != nil &&
		d.CheckLockout != nil &&
		d.RecordAttempt != nil &&
		d.CanAuthenticate != nil &&
		d.CreateSession != nil &&
		d.Tokens.NewSessionID != nil &&
		d.Tokens.IssueAccess != nil &&
		d.Tokens.IssueRefresh != nil
}

// RunLogin drives the login state machine. Every failure after the user is
// known records a failed attempt before returning.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (LoginResult, error) {
	deps.fill()
	res := LoginResult{State: StateValidatingInput}
	if !deps.ready() {
		return res, deps.Errors.EngineNotReady
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if reason := validateLoginInput(email, req.Password); reason != "" {
		deps.MetricInc(deps.Metrics.LoginFailure)
		return res, deps.Deny(deps.Errors.InvalidInput, reason, 0)
	}

	if deps.AllowLogin != nil {
		retry, err := deps.AllowLogin(ctx, req.IP)
		switch {
		case errors.Is(err, rate.ErrRateLimited):
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, audit.Event{
				EventType: audit.EventLoginRateLimited,
				Severity:  audit.SeverityMedium,
				IP:        req.IP,
				Error:     audit.ErrCodeRateLimited,
			})
			return res, deps.Deny(deps.Errors.LoginRateLimited, "Too many login attempts. Please try again later.", retry)
		case err != nil:
			deps.Warn("login rate limiter unavailable, allowing", zap.Error(err))
		}
	}

	res.State = StateResolvingTenant
	var scoped *tenant.Tenant
	if slug := strings.TrimSpace(req.TenantSlug); slug != "" {
		t, err := deps.ResolveTenantSlug(ctx, slug)
		switch {
		case errors.Is(err, tenant.ErrNotFound), errors.Is(err, tenant.ErrNoIdentity):
			deps.MetricInc(deps.Metrics.LoginFailure)
			return res, deps.Deny(deps.Errors.TenantNotFound, "Clinic not found. Please check the clinic name.", 0)
		case errors.Is(err, tenant.ErrInactive):
			deps.MetricInc(deps.Metrics.LoginFailure)
			return res, deps.Deny(deps.Errors.TenantInactive, "This clinic account is not active.", 0)
		case err != nil:
			return res, fmt.Errorf("login: resolve tenant: %w", err)
		}
		scoped = &t
	}

	res.State = StateAuthenticatingCredentials
	id, err := deps.LookupIdentity(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			return res, fmt.Errorf("login: lookup identity: %w", err)
		}
		if deps.DummyHash != "" {
			_, _ = deps.VerifyPassword(req.Password, deps.DummyHash)
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, audit.Event{
			EventType: audit.EventLoginFailure,
			Severity:  audit.SeverityLow,
			IP:        req.IP,
			Error:     audit.ErrCodeInvalidCredentials,
			Metadata:  map[string]string{"reason": "user_not_found"},
		})
		return res, deps.Errors.InvalidCredentials
	}

	// Every query from here on runs in the user's tenant.
	ctx = tenant.WithID(ctx, id.TenantID)
	u, err := deps.GetUser(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			deps.MetricInc(deps.Metrics.LoginFailure)
			return res, deps.Errors.InvalidCredentials
		}
		return res, fmt.Errorf("login: load user: %w", err)
	}
	res.UserID, res.TenantID, res.Role = u.ID, u.TenantID, u.Role

	passwordOK, err := deps.VerifyPassword(req.Password, u.PasswordHash)
	if err != nil {
		deps.Warn("stored password hash unreadable", zap.String("user_id", u.ID), zap.Error(err))
		passwordOK = false
	}

	fail := func(code string, severity audit.Severity, cause error) error {
		deps.MetricInc(deps.Metrics.LoginFailure)
		if err := deps.RecordAttempt(ctx, u.TenantID, u.ID, false, req.IP, req.UserAgent); err != nil {
			deps.Warn("failed login attempt not recorded", zap.String("user_id", u.ID), zap.Error(err))
		}
		deps.EmitAudit(ctx, audit.Event{
			EventType: audit.EventLoginFailure,
			Severity:  severity,
			UserID:    u.ID,
			TenantID:  u.TenantID,
			IP:        req.IP,
			Error:     code,
			Metadata:  map[string]string{"state": string(res.State)},
		})
		return cause
	}

	res.State = StateCheckingSecurity
	lock, err := deps.CheckLockout(ctx, u.TenantID, u, req.IP)
	if err != nil {
		return res, fmt.Errorf("login: check lockout: %w", err)
	}
	if !lock.Allowed {
		deps.MetricInc(deps.Metrics.AccountLocked)
		sentinel := deps.Errors.AccountLocked
		if lock.Reason == user.LockReasonSuspicious {
			sentinel = deps.Errors.SuspiciousActivity
		}
		return res, fail(audit.ErrCodeAccountLocked, audit.SeverityHigh, deps.Deny(sentinel, lock.Message, lock.RetryAfter))
	}
	if !passwordOK {
		return res, fail(audit.ErrCodeInvalidCredentials, audit.SeverityLow, deps.Errors.InvalidCredentials)
	}

	res.State = StateCheckingTenantEligibility
	var t tenant.Tenant
	if scoped != nil {
		t = *scoped
	} else {
		t, err = deps.GetTenant(ctx, u.TenantID)
		if err != nil {
			_ = fail(audit.ErrCodeTenantNotFound, audit.SeverityMedium, nil)
			return res, fmt.Errorf("login: load tenant: %w", err)
		}
	}
	if decision := deps.CanAuthenticate(ctx, t); !decision.Allowed {
		deps.Warn("tenant not eligible for login",
			zap.String("tenant_id", t.ID),
			zap.String("kind", string(decision.Kind)),
			zap.String("detail", decision.Detail))
		return res, fail(audit.ErrCodeTenantIneligible, audit.SeverityMedium,
			deps.Deny(eligibilitySentinel(decision.Kind, deps.Errors), decision.Reason, 0))
	}

	res.State = StateCheckingUserEligibility
	switch {
	case !u.IsActive:
		return res, fail(audit.ErrCodeUserInactive, audit.SeverityMedium,
			deps.Deny(deps.Errors.Forbidden, "Your account has been deactivated. Please contact your clinic administrator.", 0))
	case u.Reset.RequiresReset():
		return res, fail(audit.ErrCodeResetRequired, audit.SeverityLow,
			deps.Deny(deps.Errors.PasswordResetRequired, "Password reset required for security reasons. Please use the 'Forgot Password' feature.", 0))
	case u.Reset.RequireReauth:
		return res, fail(audit.ErrCodeReauthRequired, audit.SeverityMedium,
			deps.Deny(deps.Errors.Forbidden, "Additional verification required. Please contact support.", 0))
	}

	res.State = StateVerifyingTenantMembership
	if scoped != nil && scoped.ID != u.TenantID {
		return res, fail(audit.ErrCodeTenantMismatch, audit.SeverityHigh,
			deps.Deny(deps.Errors.Forbidden, "User does not belong to the specified clinic", 0))
	}

	res.State = StateIssuingTokens
	now := deps.Now()
	issued, err := issueLoginSession(ctx, u, req, now, deps)
	if err != nil {
		return res, fail(audit.ErrCodeSessionCreation, audit.SeverityMedium, fmt.Errorf("login: issue session: %w", err))
	}
	deps.MetricInc(deps.Metrics.SessionCreated)

	res.State = StateRecordingOutcome
	if err := deps.RecordAttempt(ctx, u.TenantID, u.ID, true, req.IP, req.UserAgent); err != nil {
		deps.Warn("successful login attempt not recorded", zap.String("user_id", u.ID), zap.Error(err))
	}
	if deps.RecordLogin != nil {
		if err := deps.RecordLogin(ctx, u.ID, now); err != nil {
			deps.Warn("login analytics not updated", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, audit.Event{
		EventType: audit.EventLoginSuccess,
		Severity:  audit.SeverityInfo,
		UserID:    u.ID,
		TenantID:  u.TenantID,
		SessionID: issued.SessionID,
		IP:        req.IP,
		Success:   true,
	})

	res.SessionID = issued.SessionID
	res.AccessToken = issued.AccessToken
	res.RefreshToken = issued.RefreshToken
	res.TokenType = "bearer"
	res.ExpiresIn = deps.Tokens.AccessTTL
	if deps.PasswordExpired != nil && u.PasswordChangedAt != nil {
		res.PasswordResetRequired = deps.PasswordExpired(*u.PasswordChangedAt, now)
	}
	res.State = StateDone
	return res, nil
}

func validateLoginInput(email, password string) string {
	switch {
	case email == "":
		return "Email is required"
	case !strings.Contains(email, "@"):
		return "Valid email address is required"
	case password == "":
		return "Password is required"
	}
	return ""
}

func eligibilitySentinel(kind eligibility.Kind, errs LoginErrors) error {
	switch kind {
	case eligibility.KindGone:
		return errs.TenantCancelled
	case eligibility.KindPaymentRequired:
		return errs.PaymentRequired
	default:
		return errs.TenantSuspended
	}
}

// IssuedSession is a persisted session and its token pair.
type IssuedSession struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
}

// issueLoginSession signs both tokens first and then persists the session
// and its first refresh token in one transaction, so a failed or cancelled
// insert leaves no usable session behind.
func issueLoginSession(ctx context.Context, u user.User, req LoginRequest, now time.Time, deps LoginDeps) (IssuedSession, error) {
	sessionID := deps.Tokens.NewSessionID()

	refresh, err := deps.Tokens.IssueRefresh(u.ID, sessionID)
	if err != nil {
		return IssuedSession{}, err
	}
	access, err := deps.Tokens.IssueAccess(jwt.AccessInput{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		TenantID:  u.TenantID,
		SessionID: sessionID,
		LoginTime: now,
	})
	if err != nil {
		return IssuedSession{}, err
	}

	ttl := deps.Tokens.SessionTTL
	if ttl <= 0 {
		ttl = refresh.ExpiresAt.Sub(now)
	}
	_, err = deps.CreateSession(ctx, session.NewSession{
		ID:        sessionID,
		UserID:    u.ID,
		TenantID:  u.TenantID,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
		Device:    deps.DeviceInfo(req.UserAgent),
		LoginTime: now,
		ExpiresAt: now.Add(ttl),
	}, refresh.JTI, refresh.ExpiresAt)
	if err != nil {
		return IssuedSession{}, err
	}

	return IssuedSession{
		SessionID:    sessionID,
		AccessToken:  access,
		RefreshToken: refresh.Token,
	}, nil
}
