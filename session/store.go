package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrSessionNotFound is returned when the session does not exist in the
	// bound tenant.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenRevoked is returned by RotateRefreshToken when the presented
	// token was already revoked, expired, or rotated by a concurrent request.
	ErrTokenRevoked = errors.New("refresh token revoked")
)

const sessionColumns = `id::text, user_id::text, tenant_id::text, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
	device_info, login_time, last_activity, expires_at, is_active, COALESCE(logout_reason, '')`

// Store is the Postgres-backed session store.
type Store struct {
	db  tenant.DB
	now func() time.Time
}

// NewStore creates a session [Store] over db.
func NewStore(db tenant.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateSession persists a session without a refresh token.
func (s *Store) CreateSession(ctx context.Context, ns NewSession) (string, error) {
	ns = s.fill(ns)
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		return insertSession(ctx, tx, ns)
	})
	if err != nil {
		return "", err
	}
	return ns.ID, nil
}

// CreateSessionWithToken persists a session and its first refresh token in
// one transaction.
func (s *Store) CreateSessionWithToken(ctx context.Context, ns NewSession, jti string, tokenExpiresAt time.Time) (string, error) {
	ns = s.fill(ns)
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := insertSession(ctx, tx, ns); err != nil {
			return err
		}
		return insertToken(ctx, tx, ns.TenantID, jti, ns.UserID, ns.ID, tokenExpiresAt)
	})
	if err != nil {
		return "", err
	}
	return ns.ID, nil
}

// AttachRefreshToken records a refresh token under an active session.
func (s *Store) AttachRefreshToken(ctx context.Context, sessionID, userID, jti string, expiresAt time.Time) error {
	tenantID, err := tenant.MustID(ctx)
	if err != nil {
		return err
	}
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var active bool
		err := tx.QueryRow(ctx,
			`SELECT is_active FROM user_sessions WHERE id = $1 AND user_id = $2 FOR UPDATE`,
			sessionID, userID).Scan(&active)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("lock session: %w", err)
		}
		if !active {
			return ErrSessionNotFound
		}
		return insertToken(ctx, tx, tenantID, jti, userID, sessionID, expiresAt)
	})
}

// RotateRefreshToken revokes oldJTI and records newJTI in one transaction.
// The revoke is conditional on the old token still being live, so of two
// concurrent rotations of the same token exactly one succeeds.
func (s *Store) RotateRefreshToken(ctx context.Context, oldJTI, newJTI, userID, sessionID string, expiresAt time.Time) error {
	tenantID, err := tenant.MustID(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $3
			WHERE id = $1 AND user_id = $2 AND is_revoked = FALSE AND expires_at > $3`,
			oldJTI, userID, now)
		if err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrTokenRevoked
		}
		return insertToken(ctx, tx, tenantID, newJTI, userID, sessionID, expiresAt)
	})
}

// TenantOfToken finds the tenant of a refresh token without a tenant
// binding, through the auth_refresh_token_tenant security-definer function.
// Unknown tokens report ErrTokenRevoked.
func (s *Store) TenantOfToken(ctx context.Context, jti string) (string, error) {
	var tenantID *string
	err := s.db.QueryRow(ctx, `SELECT auth_refresh_token_tenant($1)::text`, jti).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrTokenRevoked
		}
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	if tenantID == nil || *tenantID == "" {
		return "", ErrTokenRevoked
	}
	return *tenantID, nil
}

// RevokeToken revokes one refresh token. It reports whether a live token
// was revoked.
func (s *Store) RevokeToken(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $2 WHERE id = $1 AND is_revoked = FALSE`,
			jti, s.now())
		if err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		revoked = tag.RowsAffected() > 0
		return nil
	})
	return revoked, err
}

// RevokeSession deactivates a session of userID and revokes all its refresh
// tokens in one transaction. Sessions and tokens of other users are left
// untouched.
func (s *Store) RevokeSession(ctx context.Context, sessionID, userID, reason string) (Revoked, error) {
	var out Revoked
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE user_sessions SET is_active = FALSE, logout_reason = $3
			WHERE id = $1 AND user_id = $2 AND is_active = TRUE`,
			sessionID, userID, reason)
		if err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		out.Sessions = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $3
			WHERE session_id = $1 AND user_id = $2 AND is_revoked = FALSE`,
			sessionID, userID, s.now())
		if err != nil {
			return fmt.Errorf("revoke session tokens: %w", err)
		}
		out.Tokens = int(tag.RowsAffected())
		return nil
	})
	return out, err
}

// RevokeAllForUser deactivates every session of userID and revokes every
// live refresh token, except those of excludeSessionID when it is set.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, excludeSessionID, reason string) (Revoked, error) {
	var out Revoked
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE user_sessions SET is_active = FALSE, logout_reason = $3
			WHERE user_id = $1 AND is_active = TRUE AND ($2 = '' OR id::text <> $2)`,
			userID, excludeSessionID, reason)
		if err != nil {
			return fmt.Errorf("revoke user sessions: %w", err)
		}
		out.Sessions = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $3
			WHERE user_id = $1 AND is_revoked = FALSE
				AND ($2 = '' OR session_id IS NULL OR session_id::text <> $2)`,
			userID, excludeSessionID, s.now())
		if err != nil {
			return fmt.Errorf("revoke user tokens: %w", err)
		}
		out.Tokens = int(tag.RowsAffected())
		return nil
	})
	return out, err
}

// ListActiveSessions returns the live sessions of userID, most recently
// active first.
func (s *Store) ListActiveSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	var out []SessionInfo
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id::text, COALESCE(ip_address, ''), COALESCE(user_agent, ''), device_info,
				login_time, last_activity, expires_at
			FROM user_sessions
			WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2
			ORDER BY last_activity DESC`,
			userID, s.now())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var si SessionInfo
			if err := rows.Scan(&si.SessionID, &si.IPAddress, &si.UserAgent, &si.Device,
				&si.LoginTime, &si.LastActivity, &si.ExpiresAt); err != nil {
				return fmt.Errorf("scan session: %w", err)
			}
			out = append(out, si)
		}
		return rows.Err()
	})
	return out, err
}

// VerifyRefreshToken reports whether jti is live and owned by userID.
func (s *Store) VerifyRefreshToken(ctx context.Context, jti, userID string) (bool, error) {
	var ok bool
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens
				WHERE id = $1 AND user_id = $2 AND is_revoked = FALSE AND expires_at > $3)`,
			jti, userID, s.now()).Scan(&ok)
	})
	if err != nil {
		return false, fmt.Errorf("verify refresh token: %w", err)
	}
	return ok, nil
}

// GetSession loads a session of the bound tenant.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, sessionID).Scan(
			&sess.ID, &sess.UserID, &sess.TenantID, &sess.IPAddress, &sess.UserAgent,
			&sess.Device, &sess.LoginTime, &sess.LastActivity, &sess.ExpiresAt, &sess.IsActive, &sess.LogoutReason,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return nil
	})
	return sess, err
}

// TouchSession bumps last_activity of an active session.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	return tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE user_sessions SET last_activity = $2 WHERE id = $1 AND is_active = TRUE`,
			sessionID, s.now())
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// CleanupExpired deactivates expired sessions of tenantID and revokes their
// tokens along with any other expired token. It takes the tenant explicitly
// because it runs outside any request.
func (s *Store) CleanupExpired(ctx context.Context, tenantID string) (Revoked, error) {
	var out Revoked
	now := s.now()
	err := tenant.InTxFor(ctx, s.db, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE user_sessions SET is_active = FALSE, logout_reason = $2
			WHERE is_active = TRUE AND expires_at <= $1`,
			now, ReasonExpired)
		if err != nil {
			return fmt.Errorf("expire sessions: %w", err)
		}
		out.Sessions = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx,
			`UPDATE refresh_tokens SET is_revoked = TRUE, revoked_at = $1
			WHERE is_revoked = FALSE AND (expires_at <= $1 OR session_id IN (
				SELECT id FROM user_sessions WHERE is_active = FALSE))`,
			now)
		if err != nil {
			return fmt.Errorf("expire tokens: %w", err)
		}
		out.Tokens = int(tag.RowsAffected())
		return nil
	})
	return out, err
}

func (s *Store) fill(ns NewSession) NewSession {
	if ns.ID == "" {
		ns.ID = uuid.NewString()
	}
	if ns.LoginTime.IsZero() {
		ns.LoginTime = s.now()
	}
	return ns
}

func insertSession(ctx context.Context, tx pgx.Tx, ns NewSession) error {
	if ns.TenantID == "" {
		id, ok := tenant.IDFromContext(ctx)
		if !ok {
			return tenant.ErrContextMissing
		}
		ns.TenantID = id
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO user_sessions (id, tenant_id, user_id, ip_address, user_agent, device_info,
			login_time, last_activity, expires_at, is_active)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $7, $8, TRUE)`,
		ns.ID, ns.TenantID, ns.UserID, ns.IPAddress, ns.UserAgent, ns.Device, ns.LoginTime, ns.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func insertToken(ctx context.Context, tx pgx.Tx, tenantID, jti, userID, sessionID string, expiresAt time.Time) error {
	if tenantID == "" {
		id, ok := tenant.IDFromContext(ctx)
		if !ok {
			return tenant.ErrContextMissing
		}
		tenantID = id
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO refresh_tokens (id, tenant_id, user_id, session_id, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		jti, tenantID, userID, sessionID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}
