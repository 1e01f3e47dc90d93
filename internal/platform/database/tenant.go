package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTenantIDEmpty is returned when a tenant-scoped call is attempted
// without a tenant id. An empty session variable would make every RLS
// predicate silently match nothing, so it is rejected up front.
var ErrTenantIDEmpty = errors.New("tenant id is required")

// Querier abstracts the pgx query methods shared by pool connections and
// transactions, so stores work against either.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithTenantConnection pins a dedicated connection, sets the
// app.current_tenant_id session variable that the RLS policies read,
// and runs fn on that connection. The variable is cleared before the
// connection goes back to the pool so a reused connection can never
// carry another tenant's scope.
func WithTenantConnection(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context, q Querier) error) error {
	if tenantID == "" {
		return ErrTenantIDEmpty
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() {
		// The request context may already be cancelled; the reset must
		// still run before the connection is released.
		_, _ = conn.Exec(context.Background(), "SELECT set_config('app.current_tenant_id', '', false)")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_tenant_id', $1, false)", tenantID); err != nil {
		return fmt.Errorf("setting tenant context: %w", err)
	}

	return fn(ctx, conn)
}
