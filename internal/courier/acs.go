package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shipmark-io/shipmark/internal/shipment"
)

const acsDatetimeLayout = "2006-01-02 15:04:05"

// ACSStrategy fetches tracking details from the ACS courier API.
type ACSStrategy struct {
	client *http.Client
}

func NewACSStrategy(timeout time.Duration) *ACSStrategy {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ACSStrategy{
		client: &http.Client{Timeout: timeout},
	}
}

type acsResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// FetchStatus calls the courier's tracking-details endpoint for the
// shipment's voucher number and parses the returned events.
func (s *ACSStrategy) FetchStatus(ctx context.Context, c Courier, sh shipment.Shipment) ([]TrackingEvent, error) {
	voucher := sh.CourierTrackingID
	if voucher == "" {
		voucher = sh.TrackingNumber
	}

	reqBody, err := json.Marshal(map[string]string{
		"ACSAlias":      "ACS_TrackingDetails",
		"VoucherNumber": voucher,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tracking request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("building tracking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("AcsApiKey", c.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading tracking response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	var parsed acsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding tracking response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("%w: %s", ErrFetchFailed, parsed.Error)
	}

	return ParseTrackingEvents(parsed.Data), nil
}

type acsEvent struct {
	Datetime    string `json:"checkpoint_date_time"`
	Action      string `json:"checkpoint_action"`
	Location    string `json:"checkpoint_location"`
	Notes       string `json:"checkpoint_notes"`
	StatusCode  string `json:"status_code"`
}

type acsTrackingData struct {
	Events []acsEvent `json:"events"`
}

// ParseTrackingEvents converts the raw ACS tracking payload into
// normalized events. It performs no I/O. Events whose datetime does not
// parse keep a zero HappenedAt for the caller to drop.
func ParseTrackingEvents(data json.RawMessage) []TrackingEvent {
	var payload acsTrackingData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}

	events := make([]TrackingEvent, 0, len(payload.Events))
	for _, e := range payload.Events {
		raw, _ := json.Marshal(e)

		var happenedAt time.Time
		if t, err := time.Parse(acsDatetimeLayout, strings.TrimSpace(e.Datetime)); err == nil {
			happenedAt = t
		}

		events = append(events, TrackingEvent{
			HappenedAt: happenedAt,
			Action:     strings.TrimSpace(e.Action),
			Location:   strings.TrimSpace(e.Location),
			Notes:      strings.TrimSpace(e.Notes),
			Status:     mapACSStatus(e.StatusCode, e.Action),
			Raw:        raw,
		})
	}
	return events
}

// mapACSStatus maps courier status codes to normalized shipment statuses.
// Unknown codes fall back to keyword matching on the action text.
func mapACSStatus(code, action string) shipment.Status {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PU":
		return shipment.StatusPickedUp
	case "IT", "DP", "AR":
		return shipment.StatusInTransit
	case "OD":
		return shipment.StatusOutForDelivery
	case "DE":
		return shipment.StatusDelivered
	case "RT":
		return shipment.StatusReturned
	case "CA":
		return shipment.StatusCancelled
	}

	// "out for delivery" must be checked before "deliver": the broader
	// substring would otherwise swallow it and mark the shipment terminal.
	lower := strings.ToLower(action)
	switch {
	case strings.Contains(lower, "out for delivery"):
		return shipment.StatusOutForDelivery
	case strings.Contains(lower, "deliver"):
		return shipment.StatusDelivered
	case strings.Contains(lower, "pick"):
		return shipment.StatusPickedUp
	case strings.Contains(lower, "return"):
		return shipment.StatusReturned
	default:
		return shipment.StatusInTransit
	}
}
