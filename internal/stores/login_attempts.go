package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptStore appends login attempts and counts failures for the
// lockout monitor.
type LoginAttemptStore struct {
	db tenant.DB
}

func NewLoginAttemptStore(db tenant.DB) *LoginAttemptStore {
	return &LoginAttemptStore{db: db}
}

func (s *LoginAttemptStore) Append(ctx context.Context, a limiters.Attempt) error {
	return tenant.InTxFor(ctx, s.db, a.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO login_attempts (tenant_id, user_id, success, ip_address, user_agent, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
			a.TenantID, a.UserID, a.Success, a.IP, a.UserAgent, a.At)
		if err != nil {
			return fmt.Errorf("insert login attempt: %w", err)
		}
		return nil
	})
}

func (s *LoginAttemptStore) CountFailures(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM login_attempts WHERE user_id = $1 AND success = FALSE AND created_at > $2`,
			userID, since).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count login failures: %w", err)
	}
	return n, nil
}

// LoginStats summarises attempts in a window, for tenant analytics.
type LoginStats struct {
	Successes   int
	Failures    int
	UniqueUsers int
}

// Stats counts attempts of the bound tenant since the given time.
func (s *LoginAttemptStore) Stats(ctx context.Context, since time.Time) (LoginStats, error) {
	var st LoginStats
	err := tenant.InTx(ctx, s.db, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT COUNT(*) FILTER (WHERE success), COUNT(*) FILTER (WHERE NOT success), COUNT(DISTINCT user_id)
			FROM login_attempts WHERE created_at > $1`,
			since).Scan(&st.Successes, &st.Failures, &st.UniqueUsers)
	})
	if err != nil {
		return LoginStats{}, fmt.Errorf("login stats: %w", err)
	}
	return st, nil
}
