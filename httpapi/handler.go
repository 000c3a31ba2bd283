package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/clinicauth"
	"github.com/MrEthical07/clinicauth/middleware"
	"github.com/MrEthical07/clinicauth/permission"
	"go.uber.org/zap"
)

// Service is the engine surface the handlers use. *clinicauth.Engine
// satisfies it.
type Service interface {
	middleware.Validator
	Login(ctx context.Context, req clinicauth.LoginRequest) (*clinicauth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*clinicauth.TokenPair, error)
	Logout(ctx context.Context, auth *clinicauth.AuthResult, refreshToken string) (clinicauth.LogoutResult, error)
	LogoutAll(ctx context.Context, auth *clinicauth.AuthResult, keepCurrent bool) (clinicauth.LogoutResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, auth *clinicauth.AuthResult, currentPassword, newPassword string) (clinicauth.LogoutResult, error)
	ListSessions(ctx context.Context, auth *clinicauth.AuthResult) ([]clinicauth.SessionInfo, error)
	RevokeSession(ctx context.Context, auth *clinicauth.AuthResult, sessionID string) (clinicauth.LogoutResult, error)
	RevokeOtherSessions(ctx context.Context, auth *clinicauth.AuthResult) (clinicauth.LogoutResult, error)
	ListUserSessions(ctx context.Context, auth *clinicauth.AuthResult, userID string) ([]clinicauth.SessionInfo, error)
	ForceLogout(ctx context.Context, auth *clinicauth.AuthResult, userID, reason string) (clinicauth.LogoutResult, error)
	CreateUser(ctx context.Context, auth *clinicauth.AuthResult, in clinicauth.CreateUserInput) (*clinicauth.CreateUserResult, error)
	LoginStats(ctx context.Context, auth *clinicauth.AuthResult, window time.Duration) (clinicauth.LoginStats, error)
	Health(ctx context.Context) clinicauth.HealthStatus
}

type Handler struct {
	svc     Service
	logger  *zap.Logger
	metrics http.Handler
	mode    clinicauth.RouteMode
}

type Config struct {
	Service Service
	Logger  *zap.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// RouteMode is the validation mode of bearer routes. The zero value
	// is ModeJWTOnly; use ModeInherit for the engine default.
	RouteMode clinicauth.RouteMode
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:     cfg.Service,
		logger:  logger,
		metrics: cfg.Metrics,
		mode:    cfg.RouteMode,
	}
}

// Routes returns the mux with every endpoint. Wrap it with the tenant,
// request id, client and logging middleware; see [Chain].
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	bearer := middleware.Guard(h.svc, h.mode)
	capability := func(c permission.Capability, fn http.HandlerFunc) http.Handler {
		return bearer(middleware.RequireCapability(c)(fn))
	}

	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.Handle("POST /auth/logout", bearer(http.HandlerFunc(h.handleLogout)))
	mux.Handle("POST /auth/logout-all", bearer(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("POST /auth/change-password", bearer(http.HandlerFunc(h.handleChangePassword)))

	mux.HandleFunc("POST /password-reset/request", h.handleResetRequest)
	mux.HandleFunc("POST /password-reset/confirm", h.handleResetConfirm)

	mux.Handle("GET /sessions/my-sessions", bearer(http.HandlerFunc(h.handleMySessions)))
	mux.Handle("POST /sessions/revoke-others", bearer(http.HandlerFunc(h.handleRevokeOthers)))
	mux.Handle("POST /sessions/{id}/revoke", bearer(http.HandlerFunc(h.handleRevokeSession)))
	mux.Handle("GET /sessions/user/{user_id}/sessions", capability(permission.CapManageSessions, h.handleUserSessions))
	mux.Handle("POST /sessions/admin/force-logout", capability(permission.CapManageSessions, h.handleForceLogout))

	mux.Handle("POST /users", capability(permission.CapManageUsers, h.handleCreateUser))
	mux.Handle("GET /reports/logins", capability(permission.CapViewReports, h.handleLoginStats))

	mux.HandleFunc("GET /health", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

// Chain applies mws so the first one runs outermost.
func Chain(next http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		next = mws[i](next)
	}
	return next
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	TenantSlug string `json:"tenant_slug"`
}

type userView struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

type loginResponse struct {
	AccessToken           string   `json:"access_token"`
	RefreshToken          string   `json:"refresh_token"`
	TokenType             string   `json:"token_type"`
	ExpiresIn             int      `json:"expires_in"`
	SessionID             string   `json:"session_id"`
	User                  userView `json:"user"`
	PasswordResetRequired bool     `json:"password_reset_required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.TenantSlug = strings.TrimSpace(req.TenantSlug)

	res, err := h.svc.Login(r.Context(), clinicauth.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		TenantSlug: req.TenantSlug,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    res.TokenType,
		ExpiresIn:    int(res.ExpiresIn / time.Second),
		SessionID:    res.SessionID,
		User: userView{
			ID:       res.UserID,
			TenantID: res.TenantID,
			Role:     string(res.Role),
		},
		PasswordResetRequired: res.PasswordResetRequired,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	SessionID    string `json:"session_id"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		h.fail(w, r, &clinicauth.DeniedError{Kind: clinicauth.ErrInvalidInput, Reason: "refresh_token is required"})
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int(pair.ExpiresIn / time.Second),
		SessionID:    pair.SessionID,
	})
}

type logoutResponse struct {
	Message string `json:"message"`
	clinicauth.LogoutResult
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	out, err := h.svc.Logout(r.Context(), auth, req.RefreshToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Message: "Logged out", LogoutResult: out})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	keep, _ := strconv.ParseBool(r.URL.Query().Get("keep_current"))
	auth, _ := middleware.AuthResultFromContext(r.Context())
	out, err := h.svc.LogoutAll(r.Context(), auth, keep)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Message: "Logged out of all sessions", LogoutResult: out})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	out, err := h.svc.ChangePassword(r.Context(), auth, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Message: "Password changed", LogoutResult: out})
}

type resetRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// handleResetRequest answers 200 for any well-formed request so the
// endpoint cannot be used to probe for accounts.
func (h *Handler) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		switch clinicauth.HTTPStatus(err) {
		case http.StatusBadRequest, http.StatusForbidden:
			h.fail(w, r, err)
			return
		}
		h.logger.Warn("password reset request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "If the email exists, a reset link has been sent"})
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.ConfirmPasswordReset(r.Context(), strings.TrimSpace(req.Token), req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset"})
}

type sessionsResponse struct {
	Sessions []clinicauth.SessionInfo `json:"sessions"`
	Total    int                      `json:"total"`
}

func sessionList(list []clinicauth.SessionInfo) sessionsResponse {
	if list == nil {
		list = []clinicauth.SessionInfo{}
	}
	return sessionsResponse{Sessions: list, Total: len(list)}
}

func (h *Handler) handleMySessions(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	list, err := h.svc.ListSessions(r.Context(), auth)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionList(list))
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	out, err := h.svc.RevokeSession(r.Context(), auth, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Message: "Session revoked", LogoutResult: out})
}

func (h *Handler) handleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	out, err := h.svc.RevokeOtherSessions(r.Context(), auth)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Message: "Other sessions revoked", LogoutResult: out})
}

func (h *Handler) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	list, err := h.svc.ListUserSessions(r.Context(), auth, r.PathValue("user_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionList(list))
}

type forceLogoutRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (h *Handler) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	var req forceLogoutRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	out, err := h.svc.ForceLogout(r.Context(), auth, strings.TrimSpace(req.UserID), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutResponse{Message: "User logged out", LogoutResult: out})
}

type createUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

type createUserResponse struct {
	User              userView `json:"user"`
	Email             string   `json:"email"`
	TemporaryPassword string   `json:"temporary_password,omitempty"`
	ResetRequired     bool     `json:"password_reset_required"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	res, err := h.svc.CreateUser(r.Context(), auth, clinicauth.CreateUserInput{
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, createUserResponse{
		User:              userView{ID: res.UserID, TenantID: res.TenantID, Role: string(res.Role)},
		Email:             res.Email,
		TemporaryPassword: res.TemporaryPassword,
		ResetRequired:     res.ResetRequired,
	})
}

type loginStatsResponse struct {
	WindowSeconds int `json:"window_seconds"`
	Successes     int `json:"successes"`
	Failures      int `json:"failures"`
	UniqueUsers   int `json:"unique_users"`
}

func (h *Handler) handleLoginStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.fail(w, r, &clinicauth.DeniedError{Kind: clinicauth.ErrInvalidInput, Reason: "window must be a positive duration"})
			return
		}
		window = d
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	st, err := h.svc.LoginStats(r.Context(), auth, window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if window == 0 {
		window = 24 * time.Hour
	}
	writeJSON(w, http.StatusOK, loginStatsResponse{
		WindowSeconds: int(window / time.Second),
		Successes:     st.Successes,
		Failures:      st.Failures,
		UniqueUsers:   st.UniqueUsers,
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Redis     string `json:"redis"`
	DBLatency string `json:"database_latency"`
	RDLatency string `json:"redis_latency"`
}

func updown(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st := h.svc.Health(ctx)
	resp := healthResponse{
		Status:    "ok",
		Database:  updown(st.DatabaseAvailable),
		Redis:     updown(st.RedisAvailable),
		DBLatency: st.DatabaseLatency.String(),
		RDLatency: st.RedisLatency.String(),
	}
	status := http.StatusOK
	if !st.Healthy() {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
