package canadapost

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MockAPIClient is an in-memory implementation of APIClient for testing
// and local development.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates       func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
	OnCreateShipment func(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)
	OnGetTracking    func(ctx context.Context, pin string) (*TrackingResponse, error)
	OnFindPINs       func(ctx context.Context, ref string) ([]string, error)

	mu    sync.Mutex
	seq   int
	items map[string]*TrackingResponse
	order []string
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{items: make(map[string]*TrackingResponse)}
}

// AddTracking seeds tracking detail for a PIN.
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
	for _, o := range req.Options {
		if o.Code == "COD" {
			cod = 5.75
		}
	}
	return &RatesResponse{
		Rates: []Rate{
			{ServiceCode: "DOM.RP", ServiceName: "Regular Parcel", TotalPrice: 14.11 + cod, CODCharge: cod, ExpectedTransit: 5},
			{ServiceCode: "DOM.EP", ServiceName: "Expedited Parcel", TotalPrice: 18.95 + cod, CODCharge: cod, ExpectedTransit: 2},
			{ServiceCode: "DOM.XP", ServiceName: "Xpresspost", TotalPrice: 27.40 + cod, CODCharge: cod, ExpectedTransit: 1},
		},
	}, nil
}

// CreateShipment creates a mock shipment with an accepted tracking event.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	m.mu.Lock()
	m.seq++
	pin := fmt.Sprintf("7023%012d", m.seq)
	m.mu.Unlock()

	now := time.Now()
	m.AddTracking(&TrackingResponse{
		TrackingPIN: pin,
		CustomerRef: req.CustomerRef,
		Status:      "CREATED",
		Events: []TrackingEvent{{
			Identifier:  "CREATED",
			Date:        now.Format("2006-01-02"),
			Time:        now.Format("15:04:05"),
			Description: "Electronic information submitted by shipper",
		}},
	})

	return &ShipmentResponse{
		ShipmentID:     fmt.Sprintf("cp-ship-%d", now.UnixNano()),
		TrackingPIN:    pin,
		ShipmentStatus: "created",
		LabelURL:       fmt.Sprintf("https://ct.soa-gw.canadapost.ca/rs/artifact/%s/0", pin),
		TotalCharged:   18.95,
	}, nil
}

// GetTracking returns the seeded tracking detail for a PIN.
func (m *MockAPIClient) GetTracking(ctx context.Context, pin string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, pin)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.items[pin]
	if !ok {
		return nil, &APIError{Code: "004", Description: "No Pin History", StatusCode: http.StatusNotFound}
	}
	cp := *tr
	return &cp, nil
}

// FindPINs returns PINs booked with the given customer reference, most recent first.
func (m *MockAPIClient) FindPINs(ctx context.Context, ref string) ([]string, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnFindPINs != nil {
		return m.OnFindPINs(ctx, ref)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var pins []string
	for i := len(m.order) - 1; i >= 0; i-- {
		if m.items[m.order[i]].CustomerRef == ref {
			pins = append(pins, m.order[i])
		}
	}
	return pins, nil
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
		return &APIError{Code: "MOCK_ERROR", Description: "Simulated API error", StatusCode: http.StatusInternalServerError}
	}
	return nil
}

var _ APIClient = (*MockAPIClient)(nil)
