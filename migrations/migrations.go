// Package migrations embeds the schema and applies it in file order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

//go:embed *.sql
var files embed.FS

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DB is the subset of *pgxpool.Pool Apply needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Versions lists the embedded migrations in the order Apply runs them.
func Versions() ([]string, error) {
	entries, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	out := make([]string, 0, len(entries))
	for _, name := range entries {
		out = append(out, strings.TrimSuffix(name, ".sql"))
	}
	return out, nil
}

// Apply runs every embedded migration not yet recorded in
// schema_migrations, each in its own transaction. It returns the versions
// it applied.
func Apply(ctx context.Context, db DB, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.Exec(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	versions, err := Versions()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, v := range versions {
		ok, err := applyOne(ctx, db, v)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", v, err)
		}
		if ok {
			logger.Info("migration applied", zap.String("version", v))
			applied = append(applied, v)
		}
	}
	return applied, nil
}

func applyOne(ctx context.Context, db DB, version string) (applied bool, err error) {
	body, err := files.ReadFile(version + ".sql")
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback(ctx)
		}
	}()

	// Serialises concurrent starters on the same database.
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('clinicauth_migrations'))"); err != nil {
		return false, err
	}
	var exists bool
	if err = tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err = tx.Exec(ctx, string(body)); err != nil {
		return false, err
	}
	if _, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return false, err
	}
	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
