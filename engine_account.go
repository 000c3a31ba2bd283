package clinicauth

import (
	"context"

	internalflows "github.com/MrEthical07/clinicauth/internal/flows"
	"github.com/MrEthical07/clinicauth/permission"
)

// CreateUser adds a user to the caller's practice. It requires the
// manage_users capability. Without a password in the input a temporary one
// is generated, returned once, and must be reset at first login.
func (e *Engine) CreateUser(ctx context.Context, auth *AuthResult, in CreateUserInput) (*CreateUserResult, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return nil, err
	}
	if err := e.requireCapability(auth, permission.CapManageUsers); err != nil {
		return nil, err
	}
	res, err := e.flow.CreateUser(ctx, caller, internalflows.CreateUserRequest{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password:  in.Password,
		Role:      in.Role,
	})
	if err != nil {
		return nil, err
	}
	return &CreateUserResult{
		UserID:            res.User.ID,
		TenantID:          res.User.TenantID,
		Email:             res.User.Email,
		Role:              res.User.Role,
		TemporaryPassword: res.TemporaryPassword,
		ResetRequired:     res.User.Reset.RequiresReset(),
	}, nil
}
