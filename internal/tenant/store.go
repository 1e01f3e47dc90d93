package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store handles tenant database operations. Tenants are platform-scoped,
// so the store talks to the pool directly instead of going through a
// tenant-bound connection.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new tenant store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const tenantColumns = `id, name, slug, status, webhook_secret, webhook_mode, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.WebhookSecret, &t.WebhookMode,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new tenant with the given name and slug. A fresh
// webhook signing secret is generated on creation.
func (s *Store) Create(ctx context.Context, name, slug, webhookMode string) (*Tenant, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	secret, err := NewWebhookSecret()
	if err != nil {
		return nil, err
	}

	t, err := scanTenant(s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, webhook_secret, webhook_mode)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+tenantColumns,
		name, slug, secret, webhookMode))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint") {
			return nil, fmt.Errorf("%w: %s", ErrSlugTaken, slug)
		}
		return nil, fmt.Errorf("creating tenant: %w", err)
	}
	return t, nil
}

// GetByID retrieves a tenant by its UUID.
func (s *Store) GetByID(ctx context.Context, id string) (*Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}

// List returns all tenants.
func (s *Store) List(ctx context.Context) ([]Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// RotateWebhookSecret replaces the tenant's signing secret and returns the
// updated tenant. In-flight requests signed with the old secret fail
// verification from this point on.
func (s *Store) RotateWebhookSecret(ctx context.Context, id string) (*Tenant, error) {
	secret, err := NewWebhookSecret()
	if err != nil {
		return nil, err
	}

	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants SET webhook_secret = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+tenantColumns,
		id, secret))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("rotating webhook secret: %w", err)
	}
	return t, nil
}

// SetWebhookMode switches the tenant between permissive and enforced
// verification.
func (s *Store) SetWebhookMode(ctx context.Context, id, mode string) (*Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants SET webhook_mode = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+tenantColumns,
		id, mode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("setting webhook mode: %w", err)
	}
	return t, nil
}
