package shipment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shipmark-io/shipmark/internal/platform/database"
)

// Store handles order and shipment database operations.
// Methods accept database.Querier so they can run inside WithTenantConnection.
type Store struct{}

// NewStore creates a new shipment store.
func NewStore() *Store {
	return &Store{}
}

const shipmentColumns = `id, tenant_id, order_id, courier_code, tracking_number,
	 COALESCE(courier_tracking_id, ''), status, courier_response, actual_delivery, created_at, updated_at`

func scanShipment(row pgx.Row) (*Shipment, error) {
	var sh Shipment
	var status string
	err := row.Scan(
		&sh.ID, &sh.TenantID, &sh.OrderID, &sh.CourierCode, &sh.TrackingNumber,
		&sh.CourierTrackingID, &status, &sh.CourierResponse, &sh.ActualDelivery,
		&sh.CreatedAt, &sh.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sh.Status = Status(status)
	return &sh, nil
}

// ListPollable returns the courier's shipments that are not in a terminal
// state and were updated within the lookback window. Older stalled
// shipments are intentionally not re-polled by this path.
func (s *Store) ListPollable(ctx context.Context, q database.Querier, courierCode string, lookback time.Duration, now time.Time) ([]Shipment, error) {
	rows, err := q.Query(ctx,
		`SELECT `+shipmentColumns+`
		 FROM shipments
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND courier_code = $1
		   AND status NOT IN ($2, $3, $4)
		   AND updated_at >= $5
		 ORDER BY updated_at ASC`,
		courierCode, StatusDelivered, StatusCancelled, StatusReturned, now.Add(-lookback),
	)
	if err != nil {
		return nil, fmt.Errorf("listing pollable shipments: %w", err)
	}
	defer rows.Close()

	var result []Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning shipment: %w", err)
		}
		result = append(result, *sh)
	}
	return result, rows.Err()
}

// GetByID retrieves a shipment by ID.
func (s *Store) GetByID(ctx context.Context, q database.Querier, id uuid.UUID) (*Shipment, error) {
	sh, err := scanShipment(q.QueryRow(ctx,
		`SELECT `+shipmentColumns+`
		 FROM shipments
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShipmentNotFound
		}
		return nil, fmt.Errorf("getting shipment: %w", err)
	}
	return sh, nil
}

// ListByStatus returns shipments filtered by status; an empty status lists all.
func (s *Store) ListByStatus(ctx context.Context, q database.Querier, status Status) ([]Shipment, error) {
	query := `SELECT ` + shipmentColumns + `
		 FROM shipments
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID`
	args := []any{}
	if status != "" {
		query += ` AND status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing shipments: %w", err)
	}
	defer rows.Close()

	var result []Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning shipment: %w", err)
		}
		result = append(result, *sh)
	}
	return result, rows.Err()
}

// InsertHistoryEntry records one tracking event. It returns true when the
// entry is new and false when the (shipment, happened_at, status) triple
// already exists, making re-ingestion a no-op.
func (s *Store) InsertHistoryEntry(ctx context.Context, q database.Querier, entry StatusHistoryEntry) (bool, error) {
	var insertedID uuid.UUID
	err := q.QueryRow(ctx,
		`INSERT INTO shipment_status_history (
			shipment_id, status, description, location, happened_at, raw_response
		 )
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (shipment_id, happened_at, status) DO NOTHING
		 RETURNING id`,
		entry.ShipmentID, entry.Status, entry.Description, entry.Location,
		entry.HappenedAt, entry.RawResponse,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("inserting status history entry: %w", err)
	}
	return true, nil
}

// LatestHistoryEntry returns the entry with the maximum happened_at for a
// shipment, which defines the shipment's current status under latest-wins.
func (s *Store) LatestHistoryEntry(ctx context.Context, q database.Querier, shipmentID uuid.UUID) (*StatusHistoryEntry, error) {
	var entry StatusHistoryEntry
	var status string
	err := q.QueryRow(ctx,
		`SELECT id, shipment_id, status, description, location, happened_at, raw_response, created_at
		 FROM shipment_status_history
		 WHERE shipment_id = $1
		 ORDER BY happened_at DESC
		 LIMIT 1`,
		shipmentID,
	).Scan(&entry.ID, &entry.ShipmentID, &status, &entry.Description, &entry.Location,
		&entry.HappenedAt, &entry.RawResponse, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest history entry: %w", err)
	}
	entry.Status = Status(status)
	return &entry, nil
}

// HistoryForShipment returns all entries newest first.
func (s *Store) HistoryForShipment(ctx context.Context, q database.Querier, shipmentID uuid.UUID) ([]StatusHistoryEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT id, shipment_id, status, description, location, happened_at, raw_response, created_at
		 FROM shipment_status_history
		 WHERE shipment_id = $1
		 ORDER BY happened_at DESC`,
		shipmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing status history: %w", err)
	}
	defer rows.Close()

	var result []StatusHistoryEntry
	for rows.Next() {
		var entry StatusHistoryEntry
		var status string
		if err := rows.Scan(&entry.ID, &entry.ShipmentID, &status, &entry.Description,
			&entry.Location, &entry.HappenedAt, &entry.RawResponse, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning status history entry: %w", err)
		}
		entry.Status = Status(status)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// UpdateStatus sets the shipment's current status and raw courier snapshot.
// A delivered status also records the actual delivery time.
func (s *Store) UpdateStatus(ctx context.Context, q database.Querier, shipmentID uuid.UUID, status Status, raw json.RawMessage, actualDelivery *time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE shipments
		 SET status = $2,
		     courier_response = $3,
		     actual_delivery = COALESCE($4, actual_delivery),
		     updated_at = now()
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND id = $1`,
		shipmentID, status, raw, actualDelivery,
	)
	if err != nil {
		return fmt.Errorf("updating shipment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShipmentNotFound
	}
	return nil
}

// FindOrderByTracking matches a courier-reported tracking value against the
// order's external id, then against any shipment's tracking number or
// courier tracking id, following the shipment to its order. All queries are
// tenant-scoped, so cross-tenant matches are impossible by construction.
func (s *Store) FindOrderByTracking(ctx context.Context, q database.Querier, tracking string) (*Order, error) {
	if tracking == "" {
		return nil, ErrTrackingEmpty
	}

	var o Order
	err := q.QueryRow(ctx,
		`SELECT id, tenant_id, external_id, customer_name, COALESCE(customer_ref, ''),
		        total_amount, currency, created_at, updated_at
		 FROM orders
		 WHERE tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND external_id = $1`,
		tracking,
	).Scan(&o.ID, &o.TenantID, &o.ExternalID, &o.CustomerName, &o.CustomerRef,
		&o.TotalAmount, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("matching order by external id: %w", err)
	}

	err = q.QueryRow(ctx,
		`SELECT o.id, o.tenant_id, o.external_id, o.customer_name, COALESCE(o.customer_ref, ''),
		        o.total_amount, o.currency, o.created_at, o.updated_at
		 FROM shipments sh
		 JOIN orders o ON o.id = sh.order_id
		 WHERE sh.tenant_id = current_setting('app.current_tenant_id', true)::UUID
		   AND (sh.tracking_number = $1 OR sh.courier_tracking_id = $1)
		 LIMIT 1`,
		tracking,
	).Scan(&o.ID, &o.TenantID, &o.ExternalID, &o.CustomerName, &o.CustomerRef,
		&o.TotalAmount, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("matching order by shipment tracking: %w", err)
	}
	return &o, nil
}

// UpsertOrder creates or refreshes an order pushed by the store plugin,
// keyed by (tenant, external_id).
func (s *Store) UpsertOrder(ctx context.Context, q database.Querier, externalID, customerName, customerRef string, totalAmount float64, currency string) (*Order, error) {
	var o Order
	err := q.QueryRow(ctx,
		`INSERT INTO orders (tenant_id, external_id, customer_name, customer_ref, total_amount, currency)
		 VALUES (current_setting('app.current_tenant_id', true)::UUID, $1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, external_id) DO UPDATE
		 SET customer_name = EXCLUDED.customer_name,
		     customer_ref = EXCLUDED.customer_ref,
		     total_amount = EXCLUDED.total_amount,
		     currency = EXCLUDED.currency,
		     updated_at = now()
		 RETURNING id, tenant_id, external_id, customer_name, COALESCE(customer_ref, ''),
		           total_amount, currency, created_at, updated_at`,
		externalID, customerName, customerRef, totalAmount, currency,
	).Scan(&o.ID, &o.TenantID, &o.ExternalID, &o.CustomerName, &o.CustomerRef,
		&o.TotalAmount, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting order: %w", err)
	}
	return &o, nil
}

// UpsertShipment creates or refreshes the shipment for an order and courier,
// keyed by (tenant, order_id, tracking_number).
func (s *Store) UpsertShipment(ctx context.Context, q database.Querier, orderID uuid.UUID, courierCode, trackingNumber, courierTrackingID string) (*Shipment, error) {
	if trackingNumber == "" {
		return nil, ErrTrackingEmpty
	}

	sh, err := scanShipment(q.QueryRow(ctx,
		`INSERT INTO shipments (tenant_id, order_id, courier_code, tracking_number, courier_tracking_id, status)
		 VALUES (current_setting('app.current_tenant_id', true)::UUID, $1, $2, $3, NULLIF($4, ''), $5)
		 ON CONFLICT (tenant_id, order_id, tracking_number) DO UPDATE
		 SET courier_code = EXCLUDED.courier_code,
		     courier_tracking_id = COALESCE(EXCLUDED.courier_tracking_id, shipments.courier_tracking_id),
		     updated_at = now()
		 RETURNING `+shipmentColumns,
		orderID, courierCode, trackingNumber, courierTrackingID, StatusPending,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting shipment: %w", err)
	}
	return sh, nil
}
