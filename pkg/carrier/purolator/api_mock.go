package purolator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is a mock implementation of APIClient for testing.
// Shipments created through it become trackable by PIN and reference.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates       func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
	OnCreateShipment func(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)
	OnGetTracking    func(ctx context.Context, trackingPIN string) (*TrackingResponse, error)

	mu    sync.Mutex
	seq   int
	items map[string]*TrackingResponse
	order []string
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{items: make(map[string]*TrackingResponse)}
}

// AddTracking seeds tracking data for a PIN.
func (m *MockAPIClient) AddTracking(tr *TrackingResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[tr.TrackingPIN]; !ok {
		m.order = append(m.order, tr.TrackingPIN)
	}
	m.items[tr.TrackingPIN] = tr
}

// GetRates returns mock shipping rates.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	var cod float64
	if req.CODAmount != "" {
		cod = 7.25
	}
	return &RatesResponse{
		ShipmentRates: []ShipmentRate{
			{ServiceCode: "PurolatorGround", ServiceName: "Purolator Ground", BasePrice: 16.75, Surcharges: 2.01, Taxes: 2.44, CODCharge: cod, TotalPrice: 21.20 + cod, EstimatedTransitDays: 5},
			{ServiceCode: "PurolatorExpress", ServiceName: "Purolator Express", BasePrice: 28.50, Surcharges: 3.42, Taxes: 2.68, CODCharge: cod, TotalPrice: 34.60 + cod, EstimatedTransitDays: 2},
			{ServiceCode: "PurolatorExpress9AM", ServiceName: "Purolator Express 9AM", BasePrice: 44.10, Surcharges: 5.29, Taxes: 2.76, CODCharge: cod, TotalPrice: 52.15 + cod, EstimatedTransitDays: 1},
		},
	}, nil
}

// CreateShipment creates a mock shipment.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	m.mu.Lock()
	m.seq++
	pin := fmt.Sprintf("3297%08d", m.seq)
	m.mu.Unlock()

	m.AddTracking(&TrackingResponse{
		TrackingPIN: pin,
		Reference:   req.Reference,
		Status:      "Created",
		Events: []TrackingEvent{{
			Timestamp:   time.Now().UTC().Format("2006-01-02T15:04:05"),
			Description: "Shipment created",
			Type:        "Created",
		}},
	})

	return &ShipmentResponse{
		ShipmentPIN: pin,
		TotalPrice:  21.20,
		LabelURL:    "https://mock.purolator.com/labels/" + uuid.NewString(),
	}, nil
}

// GetTracking returns seeded tracking information.
func (m *MockAPIClient) GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, trackingPIN)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.items[trackingPIN]
	if !ok {
		return nil, notFound()
	}
	cp := *tr
	return &cp, nil
}

// GetTrackingByReference returns the most recent shipment booked with reference.
func (m *MockAPIClient) GetTrackingByReference(ctx context.Context, reference string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if tr := m.items[m.order[i]]; tr.Reference == reference {
			cp := *tr
			return &cp, nil
		}
	}
	return nil, notFound()
}

func notFound() error {
	return &APIError{Code: "TRACKING_NOT_FOUND", Description: "Tracking information not found", StatusCode: http.StatusNotFound}
}

func (m *MockAPIClient) simulate(ctx context.Context) error {
	if m.SimulateLatency > 0 {
		t := time.NewTimer(m.SimulateLatency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if m.SimulateErrors {
		return &APIError{Code: "MOCK_ERROR", Description: "Simulated API error", StatusCode: http.StatusServiceUnavailable}
	}
	return nil
}

var _ APIClient = (*MockAPIClient)(nil)
