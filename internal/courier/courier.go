// Package courier holds the per-tenant courier registry, the pluggable
// fetch strategies for courier tracking APIs, and the polling ingester
// that folds tracking events into shipment status history.
package courier

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shipmark-io/shipmark/internal/shipment"
)

var (
	ErrNotFound      = errors.New("courier not found")
	ErrCodeEmpty     = errors.New("courier code is required")
	ErrCodeTaken     = errors.New("courier code already exists")
	ErrNameEmpty     = errors.New("courier name is required")
	ErrFetchFailed   = errors.New("courier status fetch failed")
)

// Courier is a registered courier integration for a tenant. Polling is
// capability-gated: couriers without an endpoint and API key are skipped.
type Courier struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	APIEndpoint string    `json:"api_endpoint"`
	APIKey      string    `json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pollable reports whether the courier has the credentials to poll.
func (c Courier) Pollable() bool {
	return c.Active && c.APIEndpoint != "" && c.APIKey != ""
}

// TrackingEvent is one courier-reported status change. Events without a
// parseable datetime carry a zero HappenedAt and are dropped by the
// ingester with a warning.
type TrackingEvent struct {
	HappenedAt time.Time
	Action     string
	Location   string
	Notes      string
	Status     shipment.Status
	Raw        json.RawMessage
}
