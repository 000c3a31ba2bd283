package eligibility

import (
	"context"
	"fmt"

	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/jackc/pgx/v5"
)

const usageSQL = `SELECT
	(SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND is_active),
	COALESCE(u.patient_count, 0),
	COALESCE(u.storage_used_gb, 0),
	COALESCE(u.api_calls_this_month, 0)
FROM (SELECT $1::uuid AS tenant_id) t
LEFT JOIN tenant_usage u ON u.tenant_id = t.tenant_id`

// PgUsage reads usage counters from Postgres inside a tenant-bound
// transaction.
type PgUsage struct {
	db tenant.DB
}

func NewPgUsage(db tenant.DB) *PgUsage {
	return &PgUsage{db: db}
}

func (p *PgUsage) Usage(ctx context.Context, tenantID string) (Usage, error) {
	var u Usage
	err := tenant.InTxFor(ctx, p.db, tenantID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, usageSQL, tenantID).
			Scan(&u.ActiveUsers, &u.Patients, &u.StorageGB, &u.APICallsMonth)
	})
	if err != nil {
		return Usage{}, fmt.Errorf("eligibility: usage: %w", err)
	}
	return u, nil
}
