package courier

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shipmark-io/shipmark/internal/platform/database"
)

// Store handles courier database operations.
// Methods accept database.Querier so they can run inside WithTenantConnection.
type Store struct{}

// NewStore creates a new courier store.
func NewStore() *Store {
	return &Store{}
}

const courierColumns = `id, tenant_id, code, name, COALESCE(api_endpoint, ''), COALESCE(api_key, ''), active, created_at`

// Create registers a courier for the current tenant.
func (s *Store) Create(ctx context.Context, q database.Querier, code, name, apiEndpoint, apiKey string, active bool) (*Courier, error) {
	if code == "" {
		return nil, ErrCodeEmpty
	}
	if name == "" {
		return nil, ErrNameEmpty
	}

	var c Courier
	err := q.QueryRow(ctx,
		`INSERT INTO couriers (tenant_id, code, name, api_endpoint, api_key, active)
		 VALUES (current_setting('app.current_tenant_id', true)::UUID, lower($1), $2, $3, $4, $5)
		 RETURNING `+courierColumns,
		code, name, apiEndpoint, apiKey, active,
	).Scan(&c.ID, &c.TenantID, &c.Code, &c.Name, &c.APIEndpoint, &c.APIKey, &c.Active, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrCodeTaken
		}
		return nil, fmt.Errorf("creating courier: %w", err)
	}
	return &c, nil
}

// List returns all couriers for the current tenant.
func (s *Store) List(ctx context.Context, q database.Querier) ([]Courier, error) {
	rows, err := q.Query(ctx,
		`SELECT `+courierColumns+`
		 FROM couriers
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing couriers: %w", err)
	}
	defer rows.Close()

	var result []Courier
	for rows.Next() {
		var c Courier
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Code, &c.Name, &c.APIEndpoint, &c.APIKey, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning courier: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// ListPollable returns active couriers with both an endpoint and an API key.
// Couriers without credentials are skipped, not an error.
func (s *Store) ListPollable(ctx context.Context, q database.Querier) ([]Courier, error) {
	rows, err := q.Query(ctx,
		`SELECT `+courierColumns+`
		 FROM couriers
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND active
		   AND COALESCE(api_endpoint, '') <> ''
		   AND COALESCE(api_key, '') <> ''
		 ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("listing pollable couriers: %w", err)
	}
	defer rows.Close()

	var result []Courier
	for rows.Next() {
		var c Courier
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Code, &c.Name, &c.APIEndpoint, &c.APIKey, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning courier: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetByID retrieves a courier by ID for the current tenant.
func (s *Store) GetByID(ctx context.Context, q database.Querier, id uuid.UUID) (*Courier, error) {
	var c Courier
	err := q.QueryRow(ctx,
		`SELECT `+courierColumns+`
		 FROM couriers
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND id = $1`,
		id,
	).Scan(&c.ID, &c.TenantID, &c.Code, &c.Name, &c.APIEndpoint, &c.APIKey, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting courier: %w", err)
	}
	return &c, nil
}

// Update changes a courier's name, credentials, and active flag.
func (s *Store) Update(ctx context.Context, q database.Querier, id uuid.UUID, name, apiEndpoint, apiKey string, active bool) (*Courier, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}

	var c Courier
	err := q.QueryRow(ctx,
		`UPDATE couriers
		 SET name = $2, api_endpoint = $3, api_key = $4, active = $5
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND id = $1
		 RETURNING `+courierColumns,
		id, name, apiEndpoint, apiKey, active,
	).Scan(&c.ID, &c.TenantID, &c.Code, &c.Name, &c.APIEndpoint, &c.APIKey, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating courier: %w", err)
	}
	return &c, nil
}

// Delete removes a courier by ID. Returns ErrNotFound if no rows affected.
func (s *Store) Delete(ctx context.Context, q database.Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM couriers
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("deleting courier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
