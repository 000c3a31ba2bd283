package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/password"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/user"
	"go.uber.org/zap"
)

// CreateUserRequest is the administrative input for a new staff member.
// An empty Password makes the flow generate a temporary one.
type CreateUserRequest struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	Role      string
}

// CreateUserResult is the created user plus the temporary password when one
// was generated.
type CreateUserResult struct {
	User              user.User
	TemporaryPassword string
}

// AccountErrors carries host-level sentinel errors used by account creation.
type AccountErrors struct {
	EngineNotReady error
	InvalidInput   error
	PasswordPolicy error
	EmailTaken     error
}

// AccountDeps captures account creation dependencies.
type AccountDeps struct {
	ValidatePassword func(ctx context.Context, candidate string) (bool, []password.Reason)
	GeneratePassword func(length int) (string, error)
	HashPassword     func(string) (string, error)
	CreateUser       func(ctx context.Context, in user.NewUser) (user.User, error)

	Deny      func(sentinel error, reason string) error
	MetricInc func(int)
	EmitAudit func(context.Context, audit.Event)
	Warn      func(string, ...zap.Field)

	UserCreatedMetric int
	Errors            AccountErrors
}

// RunCreateUser creates a user in the caller's tenant. Users created with a
// generated password must reset it on first login.
func RunCreateUser(ctx context.Context, caller Caller, req CreateUserRequest, deps AccountDeps) (CreateUserResult, error) {
	if deps.HashPassword == nil || deps.CreateUser == nil {
		return CreateUserResult{}, deps.Errors.EngineNotReady
	}
	if deps.Deny == nil {
		deps.Deny = func(sentinel error, _ string) error { return sentinel }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, audit.Event) {}
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return CreateUserResult{}, deps.Deny(deps.Errors.InvalidInput, "Valid email address is required")
	}
	role, err := permission.ParseRole(req.Role)
	if err != nil {
		return CreateUserResult{}, deps.Deny(deps.Errors.InvalidInput, "Invalid role")
	}

	var (
		plain     = req.Password
		generated bool
	)
	if plain == "" {
		if deps.GeneratePassword == nil {
			return CreateUserResult{}, deps.Errors.EngineNotReady
		}
		plain, err = deps.GeneratePassword(0)
		if err != nil {
			return CreateUserResult{}, fmt.Errorf("create user: generate password: %w", err)
		}
		generated = true
	} else if deps.ValidatePassword != nil {
		if ok, reasons := deps.ValidatePassword(ctx, plain); !ok {
			return CreateUserResult{}, deps.Deny(deps.Errors.PasswordPolicy, joinReasons(reasons))
		}
	}

	hash, err := deps.HashPassword(plain)
	if err != nil {
		return CreateUserResult{}, fmt.Errorf("create user: hash password: %w", err)
	}

	in := user.NewUser{
		TenantID:     caller.TenantID,
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
		Role:         role,
	}
	if generated {
		in.Reset = user.ResetFlags{FirstLogin: true, ForceReset: true, TemporaryPassword: true}
	}

	u, err := deps.CreateUser(ctx, in)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return CreateUserResult{}, deps.Deny(deps.Errors.EmailTaken, "A user with this email already exists")
		}
		return CreateUserResult{}, fmt.Errorf("create user: %w", err)
	}

	deps.MetricInc(deps.UserCreatedMetric)
	deps.EmitAudit(ctx, audit.Event{
		EventType:   audit.EventUserCreated,
		Severity:    audit.SeverityInfo,
		Description: "user created",
		UserID:      u.ID,
		TenantID:    u.TenantID,
		IP:          caller.IP,
		Success:     true,
		Metadata: map[string]string{
			"admin_id":           caller.UserID,
			"role":               string(role),
			"temporary_password": fmt.Sprint(generated),
		},
	})

	res := CreateUserResult{User: u}
	if generated {
		res.TemporaryPassword = plain
	}
	return res, nil
}
