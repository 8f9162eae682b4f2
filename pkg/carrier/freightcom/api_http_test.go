package freightcom_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/carrierhub/pkg/carrier/freightcom"
)

func newHTTPClient(t *testing.T, h http.Handler) *freightcom.HTTPAPIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return freightcom.NewHTTPAPIClient(freightcom.HTTPAPIClientConfig{
		BaseURL:      srv.URL,
		APIKey:       "secret",
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	})
}

func TestHTTPAPIClient_SearchAndTrack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /shipment", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "AWB123", r.URL.Query().Get("tracking_number"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"shipments": []map[string]string{{"id": "s-1", "tracking_number": "AWB123"}},
		})
	})
	mux.HandleFunc("GET /shipment/s-1/tracking-events", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_number":"AWB123","status":"out_for_delivery","events":[{"timestamp":"2024-05-01T10:00:00Z","description":"Out for delivery","status":"out_for_delivery"}]}`))
	})
	client := newHTTPClient(t, mux)
	ctx := context.Background()

	found, err := client.SearchShipments(ctx, freightcom.ShipmentSearch{TrackingNumber: "AWB123"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	tr, err := client.GetTracking(ctx, found[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "s-1", tr.ShipmentID)
	assert.Equal(t, "out_for_delivery", tr.Status)
	assert.Len(t, tr.Events, 1)
}

func TestHTTPAPIClient_ParseError(t *testing.T) {
	client := newHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such shipment"}`))
	}))

	_, err := client.GetTracking(context.Background(), "missing")

	var apiErr *freightcom.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "no such shipment", apiErr.Message)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestHTTPAPIClient_GetRatesPolls(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"request_id":"r-1","status":"pending"}`))
	})
	mux.HandleFunc("GET /rate/r-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"request_id":"r-1","status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"request_id":"r-1","status":"complete","rates":[{"service_id":101,"total_price":20.24,"currency":"CAD"}]}`))
	})
	client := newHTTPClient(t, mux)

	resp, err := client.GetRates(context.Background(), &freightcom.RatesRequest{})

	require.NoError(t, err)
	assert.Len(t, resp.Rates, 1)
	assert.Equal(t, int32(3), polls.Load())
}

func TestHTTPAPIClient_RetriesTransientReads(t *testing.T) {
	var calls atomic.Int32
	client := newHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"tracking_number":"AWB9","status":"delivered"}`))
	}))

	tr, err := client.GetTracking(context.Background(), "s-9")

	require.NoError(t, err)
	assert.Equal(t, "delivered", tr.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPAPIClient_DoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	client := newHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"BAD_ID","message":"malformed id"}`))
	}))

	_, err := client.GetTracking(context.Background(), "bad")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPAPIClient_PollTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"request_id":"r-2","status":"pending"}`))
	})
	mux.HandleFunc("GET /rate/r-2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"request_id":"r-2","status":"pending"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := freightcom.NewHTTPAPIClient(freightcom.HTTPAPIClientConfig{
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  50 * time.Millisecond,
	})

	_, err := client.GetRates(context.Background(), &freightcom.RatesRequest{})

	var apiErr *freightcom.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "TIMEOUT", apiErr.Code)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
}
