package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInTxBindsTenantBeforeQueries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := WithID(context.Background(), "tenant-a")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("tenant-a").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("UPDATE user_sessions").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = InTx(ctx, mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "UPDATE user_sessions SET last_activity = NOW()")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxWithoutTenantNeverTouchesDatabase(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	called := false
	err = InTx(context.Background(), mock, func(pgx.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrContextMissing)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())

	err = InTxFor(context.Background(), mock, "", func(pgx.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrContextMissing)
}

func TestInTxRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("insert failed")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("tenant-a").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err = InTxFor(context.Background(), mock, "tenant-a", func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackWhenBindFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("tenant-a").
		WillReturnError(fmt.Errorf("permission denied"))
	mock.ExpectRollback()

	called := false
	err = InTxFor(context.Background(), mock, "tenant-a", func(pgx.Tx) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called, "callback must not run on an unbound transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnCancellation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx, cancel := context.WithCancel(WithID(context.Background(), "tenant-a"))
	defer cancel()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("tenant-a").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err = InTx(ctx, mock, func(pgx.Tx) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// fakePool hands out a small fixed set of connections so concurrent
// transactions reuse them, the way a real pool does.
type fakePool struct {
	conns  chan *fakeConn
	leaked atomic.Int64
}

type fakeConn struct {
	setting string
}

func newFakePool(size int) *fakePool {
	p := &fakePool{conns: make(chan *fakeConn, size)}
	for i := 0; i < size; i++ {
		p.conns <- &fakeConn{}
	}
	return p
}

func (p *fakePool) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	select {
	case c := <-p.conns:
		if c.setting != "" {
			p.leaked.Add(1)
		}
		return &fakeTx{conn: c, pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unscoped query")
}

func (p *fakePool) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{err: errors.New("unscoped query")}
}

type fakeTx struct {
	pgx.Tx
	conn *fakeConn
	pool *fakePool
	done bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "set_config") {
		t.conn.setting = args[0].(string)
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	return fakeRow{value: t.conn.setting}
}

func (t *fakeTx) Commit(context.Context) error   { return t.finish() }
func (t *fakeTx) Rollback(context.Context) error { return t.finish() }

func (t *fakeTx) finish() error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	// set_config(..., true) is transaction-local.
	t.conn.setting = ""
	t.pool.conns <- t.conn
	return nil
}

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.value
	return nil
}

func TestTenantBindingNeverCrossesConcurrentRequests(t *testing.T) {
	pool := newFakePool(2)
	tenants := []string{"tenant-a", "tenant-b"}

	var (
		wg         sync.WaitGroup
		mismatches atomic.Int64
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := tenants[i%2]
			ctx := WithID(context.Background(), want)

			err := InTx(ctx, pool, func(tx pgx.Tx) error {
				var seen string
				if err := tx.QueryRow(ctx, "SELECT current_setting('app.tenant_id')").Scan(&seen); err != nil {
					return err
				}
				if seen != want {
					mismatches.Add(1)
				}
				if i%7 == 0 {
					return errors.New("simulated failure")
				}
				return nil
			})
			if err != nil && i%7 != 0 {
				t.Errorf("request %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if n := mismatches.Load(); n != 0 {
		t.Fatalf("%d transactions observed another tenant's binding", n)
	}
	if n := pool.leaked.Load(); n != 0 {
		t.Fatalf("%d connections were handed out with a stale tenant binding", n)
	}
}

func TestAtomicJoinsNestedTransactions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := WithID(context.Background(), "tenant-a")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("tenant-a").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("UPDATE password_reset_tokens").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE users").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = Atomic(ctx, mock, func(ctx context.Context) error {
		if err := InTx(ctx, mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "UPDATE password_reset_tokens SET is_used = TRUE")
			return err
		}); err != nil {
			return err
		}
		return InTx(ctx, mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "UPDATE users SET password_hash = 'x'")
			return err
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicRollsBackEarlierWritesWhenLaterOneFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := WithID(context.Background(), "tenant-a")
	boom := errors.New("update failed")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("tenant-a").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("UPDATE password_reset_tokens").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectRollback()

	err = Atomic(ctx, mock, func(ctx context.Context) error {
		if err := InTx(ctx, mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "UPDATE password_reset_tokens SET is_used = TRUE")
			return err
		}); err != nil {
			return err
		}
		return InTx(ctx, mock, func(pgx.Tx) error { return boom })
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicRefusesAnotherTenant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs("tenant-a").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err = Atomic(WithID(context.Background(), "tenant-a"), mock, func(ctx context.Context) error {
		return InTxFor(ctx, mock, "tenant-b", func(pgx.Tx) error { return nil })
	})
	assert.ErrorIs(t, err, ErrTxTenantMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())

	err = Atomic(context.Background(), mock, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrContextMissing)
}
