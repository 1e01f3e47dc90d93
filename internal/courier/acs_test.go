package courier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shipmark-io/shipmark/internal/courier"
	"github.com/shipmark-io/shipmark/internal/shipment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrackingEvents_Normalizes(t *testing.T) {
	data := json.RawMessage(`{
		"events": [
			{"checkpoint_date_time": "2024-03-01 09:15:00", "checkpoint_action": "Picked up", "checkpoint_location": "Athens Hub", "status_code": "PU"},
			{"checkpoint_date_time": "2024-03-02 14:00:00", "checkpoint_action": "Delivered to recipient", "checkpoint_location": "Patras", "status_code": "DE"}
		]
	}`)

	events := courier.ParseTrackingEvents(data)
	require.Len(t, events, 2)

	assert.Equal(t, shipment.StatusPickedUp, events[0].Status)
	assert.Equal(t, "Picked up", events[0].Action)
	assert.Equal(t, "Athens Hub", events[0].Location)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC), events[0].HappenedAt)

	assert.Equal(t, shipment.StatusDelivered, events[1].Status)
	assert.NotEmpty(t, events[1].Raw)
}

func TestParseTrackingEvents_UnparseableDatetimeKeptZero(t *testing.T) {
	data := json.RawMessage(`{
		"events": [
			{"checkpoint_date_time": "not-a-date", "checkpoint_action": "In transit", "status_code": "IT"}
		]
	}`)

	events := courier.ParseTrackingEvents(data)
	require.Len(t, events, 1)
	assert.True(t, events[0].HappenedAt.IsZero())
}

func TestParseTrackingEvents_UnknownStatusFallsBackToAction(t *testing.T) {
	data := json.RawMessage(`{
		"events": [
			{"checkpoint_date_time": "2024-03-01 10:00:00", "checkpoint_action": "Shipment delivered", "status_code": "ZZ"},
			{"checkpoint_date_time": "2024-03-01 11:00:00", "checkpoint_action": "Arrived at facility", "status_code": ""},
			{"checkpoint_date_time": "2024-03-01 12:00:00", "checkpoint_action": "Out for delivery", "status_code": "ZZ"}
		]
	}`)

	events := courier.ParseTrackingEvents(data)
	require.Len(t, events, 3)
	assert.Equal(t, shipment.StatusDelivered, events[0].Status)
	assert.Equal(t, shipment.StatusInTransit, events[1].Status)
	// Must not collapse into delivered: that is terminal and would stop
	// polling the shipment.
	assert.Equal(t, shipment.StatusOutForDelivery, events[2].Status)
}

func TestParseTrackingEvents_MalformedPayload(t *testing.T) {
	assert.Nil(t, courier.ParseTrackingEvents(json.RawMessage(`not json`)))
}

func TestACSStrategy_FetchStatus(t *testing.T) {
	var gotKey, gotVoucher string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("AcsApiKey")
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotVoucher = req["VoucherNumber"]

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"events": []map[string]string{
					{"checkpoint_date_time": "2024-03-01 09:15:00", "checkpoint_action": "Picked up", "status_code": "PU"},
				},
			},
		})
	}))
	defer srv.Close()

	strategy := courier.NewACSStrategy(5 * time.Second)
	events, err := strategy.FetchStatus(context.Background(), courier.Courier{
		Code:        "acs",
		APIEndpoint: srv.URL,
		APIKey:      "test-api-key",
	}, shipment.Shipment{
		TrackingNumber:    "TRK-1",
		CourierTrackingID: "VOUCHER-9",
	})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "test-api-key", gotKey)
	assert.Equal(t, "VOUCHER-9", gotVoucher, "courier tracking id wins over tracking number")
	assert.Equal(t, shipment.StatusPickedUp, events[0].Status)
}

func TestACSStrategy_FetchStatus_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "voucher not found"})
	}))
	defer srv.Close()

	strategy := courier.NewACSStrategy(5 * time.Second)
	_, err := strategy.FetchStatus(context.Background(), courier.Courier{
		APIEndpoint: srv.URL,
		APIKey:      "k",
	}, shipment.Shipment{TrackingNumber: "TRK-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, courier.ErrFetchFailed)
}

func TestACSStrategy_FetchStatus_HTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	strategy := courier.NewACSStrategy(5 * time.Second)
	_, err := strategy.FetchStatus(context.Background(), courier.Courier{
		APIEndpoint: srv.URL,
		APIKey:      "k",
	}, shipment.Shipment{TrackingNumber: "TRK-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, courier.ErrFetchFailed)
}
