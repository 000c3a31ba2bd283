package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrResetTokenInvalid covers unknown, used and expired reset tokens alike.
	ErrResetTokenInvalid = errors.New("reset token invalid")
)

// ResetTokenStore persists password reset tokens by digest.
type ResetTokenStore struct {
	db tenant.DB
}

func NewResetTokenStore(db tenant.DB) *ResetTokenStore {
	return &ResetTokenStore{db: db}
}

// Create stores a new token for userID and retires any earlier pending
// token of the same user, in the tenant bound to ctx.
func (s *ResetTokenStore) Create(ctx context.Context, digest, userID string, expiresAt, now time.Time) error {
	tenantID, err := tenant.MustID(ctx)
	if err != nil {
		return err
	}
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE password_reset_tokens SET is_used = TRUE, used_at = $2 WHERE user_id = $1 AND is_used = FALSE`,
			userID, now); err != nil {
			return fmt.Errorf("retire reset tokens: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO password_reset_tokens (token, tenant_id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
			digest, tenantID, userID, expiresAt, now); err != nil {
			return fmt.Errorf("insert reset token: %w", err)
		}
		return nil
	})
}

// TenantOf finds the tenant of a token without a tenant binding, through
// the auth_reset_token_tenant security-definer function.
func (s *ResetTokenStore) TenantOf(ctx context.Context, digest string) (string, error) {
	var tenantID *string
	err := s.db.QueryRow(ctx, `SELECT auth_reset_token_tenant($1)::text`, digest).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrResetTokenInvalid
		}
		return "", fmt.Errorf("lookup reset token: %w", err)
	}
	if tenantID == nil || *tenantID == "" {
		return "", ErrResetTokenInvalid
	}
	return *tenantID, nil
}

// Peek returns the owner of a live token without consuming it.
func (s *ResetTokenStore) Peek(ctx context.Context, digest string, now time.Time) (string, error) {
	var userID string
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT user_id::text FROM password_reset_tokens WHERE token = $1 AND is_used = FALSE AND expires_at > $2`,
			digest, now).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrResetTokenInvalid
		}
		return err
	})
	return userID, err
}

// Consume marks a live token used and returns its owner. Of two concurrent
// consumptions exactly one succeeds.
func (s *ResetTokenStore) Consume(ctx context.Context, digest string, now time.Time) (string, error) {
	var userID string
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE password_reset_tokens SET is_used = TRUE, used_at = $2
			WHERE token = $1 AND is_used = FALSE AND expires_at > $2
			RETURNING user_id::text`,
			digest, now).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrResetTokenInvalid
		}
		return err
	})
	return userID, err
}

// ExpireStale retires expired pending tokens of tenantID.
func (s *ResetTokenStore) ExpireStale(ctx context.Context, tenantID string, now time.Time) (int, error) {
	var n int
	err := tenant.InTxFor(ctx, s.db, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE password_reset_tokens SET is_used = TRUE, used_at = $1 WHERE is_used = FALSE AND expires_at <= $1`,
			now)
		if err != nil {
			return fmt.Errorf("expire reset tokens: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}
