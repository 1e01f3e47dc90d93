package courier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shipmark-io/shipmark/internal/shipment"
)

// Strategy fetches tracking events for a shipment from one courier's API.
type Strategy interface {
	FetchStatus(ctx context.Context, c Courier, sh shipment.Shipment) ([]TrackingEvent, error)
}

// Registry resolves a courier code to its fetch strategy. Unregistered
// codes resolve to a no-op, so adding couriers never touches the ingester.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register binds a strategy to a courier code (case-insensitive).
func (r *Registry) Register(code string, s Strategy) {
	r.strategies[strings.ToLower(strings.TrimSpace(code))] = s
}

// Resolve returns the strategy for a code, or a pending no-op for codes
// with no integration yet.
func (r *Registry) Resolve(code string) Strategy {
	if s, ok := r.strategies[strings.ToLower(strings.TrimSpace(code))]; ok {
		return s
	}
	return NoopStrategy{Code: code}
}

// NoopStrategy stands in for couriers whose integration is not built yet.
type NoopStrategy struct {
	Code string
}

// FetchStatus logs and returns no events.
func (s NoopStrategy) FetchStatus(ctx context.Context, _ Courier, _ shipment.Shipment) ([]TrackingEvent, error) {
	slog.Info("courier integration pending, skipping fetch", "courier", s.Code)
	return nil, nil
}

// DefaultRegistry returns the registry with all built-in strategies bound.
// Speedex and Geniki are placeholders until their integrations land.
func DefaultRegistry(acs *ACSStrategy) *Registry {
	r := NewRegistry()
	r.Register("acs", acs)
	r.Register("speedex", NoopStrategy{Code: "speedex"})
	r.Register("geniki", NoopStrategy{Code: "geniki"})
	return r
}
