package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const userColumns = `id::text, tenant_id::text, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
	password_hash, role, is_active, password_changed_at, COALESCE(login_count, 0), last_login_at, created_at,
	locked_until, COALESCE(lockout_reason, ''),
	first_login, password_expired, force_reset, reset_required, temporary_password, require_reauth`

// PgStore persists users. The users and password_history tables are row-level
// secured by tenant.
type PgStore struct {
	db tenant.DB
}

// NewPgStore returns a Postgres-backed user store.
func NewPgStore(db tenant.DB) *PgStore {
	return &PgStore{db: db}
}

// LookupIdentity maps an email to its user and tenant without a tenant
// binding. It goes through the auth_login_identity security-definer function,
// which reveals nothing but the two ids of an active user.
func (s *PgStore) LookupIdentity(ctx context.Context, email string) (Identity, error) {
	var id Identity
	err := s.db.QueryRow(ctx,
		`SELECT user_id::text, tenant_id::text FROM auth_login_identity($1)`,
		normalizeEmail(email),
	).Scan(&id.UserID, &id.TenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}
	return id, nil
}

// GetByEmail returns the user with email in the bound tenant.
func (s *PgStore) GetByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		u, err = scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email)))
		return err
	})
	return u, err
}

// GetByID returns the user in the bound tenant.
func (s *PgStore) GetByID(ctx context.Context, userID string) (User, error) {
	var u User
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		u, err = scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
		return err
	})
	return u, err
}

// SetLockout writes the lock state of a user.
func (s *PgStore) SetLockout(ctx context.Context, userID string, state LockoutState) error {
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET locked_until = $2, lockout_reason = NULLIF($3, '') WHERE id = $1`,
			userID, state.LockedUntil, state.Reason)
		return affected(tag, err, "set lockout")
	})
}

// ClearLockout removes any lock from a user.
func (s *PgStore) ClearLockout(ctx context.Context, userID string) error {
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE users SET locked_until = NULL, lockout_reason = NULL WHERE id = $1 AND locked_until IS NOT NULL`,
			userID)
		if err != nil {
			return fmt.Errorf("clear lockout: %w", err)
		}
		return nil
	})
}

// RecordLogin bumps the login counter and timestamp.
func (s *PgStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET login_count = COALESCE(login_count, 0) + 1, last_login_at = $2 WHERE id = $1`,
			userID, at)
		return affected(tag, err, "record login")
	})
}

// PasswordHistory returns the newest limit entries, newest first.
func (s *PgStore) PasswordHistory(ctx context.Context, userID string, limit int) ([]PasswordHistoryEntry, error) {
	var out []PasswordHistoryEntry
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT password_hash, changed_at FROM password_history
			WHERE user_id = $1 ORDER BY changed_at DESC LIMIT $2`,
			userID, limit)
		if err != nil {
			return fmt.Errorf("query password history: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var e PasswordHistoryEntry
			if err := rows.Scan(&e.Hash, &e.ChangedAt); err != nil {
				return fmt.Errorf("scan password history: %w", err)
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// UpdatePassword replaces the password hash, moves the old hash into the
// history (trimmed to keep entries) and clears every reset flag, in one
// transaction.
func (s *PgStore) UpdatePassword(ctx context.Context, userID, newHash string, changedAt time.Time, keep int) error {
	tenantID, err := tenant.MustID(ctx)
	if err != nil {
		return err
	}
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var (
			oldHash string
			oldAt   *time.Time
		)
		err := tx.QueryRow(ctx,
			`SELECT password_hash, password_changed_at FROM users WHERE id = $1 FOR UPDATE`,
			userID).Scan(&oldHash, &oldAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		histAt := changedAt
		if oldAt != nil {
			histAt = *oldAt
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO password_history (tenant_id, user_id, password_hash, changed_at) VALUES ($1, $2, $3, $4)`,
			tenantID, userID, oldHash, histAt); err != nil {
			return fmt.Errorf("append password history: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM password_history WHERE user_id = $1 AND id NOT IN (
				SELECT id FROM password_history WHERE user_id = $1 ORDER BY changed_at DESC LIMIT $2)`,
			userID, keep); err != nil {
			return fmt.Errorf("trim password history: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE users SET password_hash = $2, password_changed_at = $3,
				first_login = FALSE, password_expired = FALSE, force_reset = FALSE,
				reset_required = FALSE, temporary_password = FALSE, require_reauth = FALSE
			WHERE id = $1`,
			userID, newHash, changedAt)
		return affected(tag, err, "update password")
	})
}

// Create inserts a user into the bound tenant. Email uniqueness is global.
func (s *PgStore) Create(ctx context.Context, in NewUser) (User, error) {
	if in.TenantID == "" {
		id, err := tenant.MustID(ctx)
		if err != nil {
			return User{}, err
		}
		in.TenantID = id
	}
	if !in.Role.Valid() {
		return User{}, permission.ErrUnknownRole
	}

	var u User
	err := tenant.InTxFor(ctx, s.db, in.TenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO users (tenant_id, email, first_name, last_name, password_hash, role, is_active, password_changed_at,
				first_login, password_expired, force_reset, reset_required, temporary_password, require_reauth)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, TRUE, NOW(), $7, $8, $9, $10, $11, $12)
			RETURNING `+userColumns,
			in.TenantID, normalizeEmail(in.Email), in.FirstName, in.LastName, in.PasswordHash, string(in.Role),
			in.Reset.FirstLogin, in.Reset.PasswordExpired, in.Reset.ForceReset,
			in.Reset.ResetRequired, in.Reset.TemporaryPassword, in.Reset.RequireReauth)
		var err error
		u, err = scanUser(row)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	})
	return u, err
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(
		&u.ID, &u.TenantID, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &role, &u.IsActive, &u.PasswordChangedAt, &u.LoginCount, &u.LastLoginAt, &u.CreatedAt,
		&u.Lockout.LockedUntil, &u.Lockout.Reason,
		&u.Reset.FirstLogin, &u.Reset.PasswordExpired, &u.Reset.ForceReset,
		&u.Reset.ResetRequired, &u.Reset.TemporaryPassword, &u.Reset.RequireReauth,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Role, err = permission.ParseRole(role)
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", u.ID, err)
	}
	return u, nil
}

func affected(tag pgconn.CommandTag, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
