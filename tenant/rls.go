package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SettingName is the session variable read by the RLS policies.
const SettingName = "app.tenant_id"

const bindTenantSQL = "SELECT set_config('" + SettingName + "', $1, true)"

// ErrTxTenantMismatch is returned when a store call joins a transaction
// bound to another tenant.
var ErrTxTenantMismatch = errors.New("tenant: transaction bound to another tenant")

type txKey struct{}

type boundTx struct {
	tx       pgx.Tx
	tenantID string
}

// DB is the subset of *pgxpool.Pool the stores need. pgxmock pools satisfy it.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx runs fn inside a transaction tagged with the tenant bound to ctx.
// fn's error, a failed bind, or a cancelled ctx rolls the transaction back.
func InTx(ctx context.Context, db DB, fn func(pgx.Tx) error) error {
	tenantID, ok := IDFromContext(ctx)
	if !ok {
		return ErrContextMissing
	}
	return InTxFor(ctx, db, tenantID, fn)
}

// Atomic runs fn in one transaction tagged with the tenant bound to ctx.
// InTx and InTxFor calls made with the context handed to fn join that
// transaction, so their writes commit or roll back together.
func Atomic(ctx context.Context, db DB, fn func(ctx context.Context) error) error {
	tenantID, ok := IDFromContext(ctx)
	if !ok {
		return ErrContextMissing
	}
	return InTxFor(ctx, db, tenantID, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, boundTx{tx: tx, tenantID: tenantID}))
	})
}

// InTxFor is InTx with an explicit tenant id, for background jobs.
func InTxFor(ctx context.Context, db DB, tenantID string, fn func(pgx.Tx) error) error {
	if tenantID == "" {
		return ErrContextMissing
	}
	if bt, ok := ctx.Value(txKey{}).(boundTx); ok {
		if bt.tenantID != tenantID {
			return ErrTxTenantMismatch
		}
		return fn(bt.tx)
	}
	if db == nil {
		return fmt.Errorf("tenant: nil database")
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err := tx.Exec(ctx, bindTenantSQL, tenantID); err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}
