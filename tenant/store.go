package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const tenantColumns = `id::text, slug, name, status, tier, is_active,
	COALESCE(max_users, 0), COALESCE(max_patients, 0), COALESCE(max_storage_gb, 0), COALESCE(max_api_calls_month, 0),
	trial_ends_at, subscription_ends_at, grace_period_ends_at, COALESCE(billing_subscription_id, '')`

// PgStore reads the tenants registry.
type PgStore struct {
	db DB
}

// NewPgStore returns a Postgres-backed tenant store.
func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) GetByID(ctx context.Context, id string) (Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (s *PgStore) GetBySlug(ctx context.Context, slug string) (Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	return scanTenant(row)
}

// ListActiveIDs returns every active tenant id, for per-tenant background jobs.
func (s *PgStore) ListActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text FROM tenants WHERE is_active = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return ids, nil
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var (
		t            Tenant
		status, tier string
	)
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &status, &tier, &t.IsActive,
		&t.LimitOverrides.Users, &t.LimitOverrides.Patients, &t.LimitOverrides.StorageGB, &t.LimitOverrides.APICallsMonth,
		&t.TrialEndsAt, &t.SubscriptionEndsAt, &t.GracePeriodEndsAt, &t.BillingSubscriptionID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	t.Status = Status(status)
	t.Tier = Tier(tier)
	return t, nil
}
