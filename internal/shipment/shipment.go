package shipment

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the normalized shipment status code.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusReturned       Status = "returned"
)

// Terminal reports whether the status ends a shipment's lifecycle.
// Terminal shipments are excluded from courier polling.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrTrackingEmpty    = errors.New("tracking number is required")
)

// Order is the internal order aggregate a courier report row matches against.
type Order struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	ExternalID   string    `json:"external_id"`
	CustomerName string    `json:"customer_name"`
	CustomerRef  string    `json:"customer_ref"`
	TotalAmount  float64   `json:"total_amount"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Shipment tracks one parcel of an order with a single courier.
type Shipment struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	OrderID           uuid.UUID       `json:"order_id"`
	CourierCode       string          `json:"courier_code"`
	TrackingNumber    string          `json:"tracking_number"`
	CourierTrackingID string          `json:"courier_tracking_id"`
	Status            Status          `json:"status"`
	CourierResponse   json.RawMessage `json:"courier_response,omitempty"`
	ActualDelivery    *time.Time      `json:"actual_delivery,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StatusHistoryEntry is one immutable tracking event recorded against a
// shipment. Uniqueness on (shipment, happened_at, status) makes ingestion
// idempotent.
type StatusHistoryEntry struct {
	ID          uuid.UUID       `json:"id"`
	ShipmentID  uuid.UUID       `json:"shipment_id"`
	Status      Status          `json:"status"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	HappenedAt  time.Time       `json:"happened_at"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
