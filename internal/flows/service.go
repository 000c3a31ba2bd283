package flows

import (
	"context"

	"github.com/MrEthical07/clinicauth/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.ParseAccess != nil && s.deps.Login.LookupIdentity != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Validate(ctx context.Context, tokenStr string, routeMode int) ValidateResult {
	return RunValidate(ctx, tokenStr, routeMode, s.deps.Validate)
}

func (s Service) Logout(ctx context.Context, caller Caller, refreshToken string) (session.Revoked, error) {
	return RunLogout(ctx, caller, refreshToken, s.deps.Session)
}

func (s Service) LogoutAll(ctx context.Context, caller Caller, keepCurrent bool) (session.Revoked, error) {
	return RunLogoutAll(ctx, caller, keepCurrent, s.deps.Session)
}

func (s Service) ListSessions(ctx context.Context, caller Caller) ([]session.SessionInfo, error) {
	return RunListSessions(ctx, caller, s.deps.Session)
}

func (s Service) RevokeSession(ctx context.Context, caller Caller, sessionID string) (session.Revoked, error) {
	return RunRevokeSession(ctx, caller, sessionID, s.deps.Session)
}

func (s Service) RevokeOthers(ctx context.Context, caller Caller) (session.Revoked, error) {
	return RunRevokeOthers(ctx, caller, s.deps.Session)
}

func (s Service) ListUserSessions(ctx context.Context, targetUserID string) ([]session.SessionInfo, error) {
	return RunListUserSessions(ctx, targetUserID, s.deps.Session)
}

func (s Service) ForceLogout(ctx context.Context, admin Caller, targetUserID, reason string) (session.Revoked, error) {
	return RunForceLogout(ctx, admin, targetUserID, reason, s.deps.Session)
}

func (s Service) RequestPasswordReset(ctx context.Context, email, ip string) error {
	return RunRequestPasswordReset(ctx, email, ip, s.deps.Password)
}

func (s Service) ConfirmPasswordReset(ctx context.Context, token, newPassword, ip string) error {
	return RunConfirmPasswordReset(ctx, token, newPassword, ip, s.deps.Password)
}

func (s Service) ChangePassword(ctx context.Context, caller Caller, currentPassword, newPassword string) (session.Revoked, error) {
	return RunChangePassword(ctx, caller, currentPassword, newPassword, s.deps.Password)
}

func (s Service) CreateUser(ctx context.Context, caller Caller, req CreateUserRequest) (CreateUserResult, error) {
	return RunCreateUser(ctx, caller, req, s.deps.Account)
}
