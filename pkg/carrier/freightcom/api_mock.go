package freightcom

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockAPIClient is an in-memory implementation of APIClient for testing
// and local development. Shipments it books become searchable.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates        func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
	OnCreateShipment  func(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)
	OnSearchShipments func(ctx context.Context, search ShipmentSearch) ([]ShipmentSummary, error)
	OnGetTracking     func(ctx context.Context, shipmentID string) (*TrackingResponse, error)

	mu        sync.Mutex
	shipments []mockShipment
}

type mockShipment struct {
	summary ShipmentSummary
	phone   string
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// AddShipment seeds a shipment that searches can find.
func (m *MockAPIClient) AddShipment(s ShipmentSummary, recipientPhone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipments = append(m.shipments, mockShipment{summary: s, phone: recipientPhone})
}

// GetRates returns mock shipping rates.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	var cod []Surcharge
	if req.Details.CashOnDelivery != nil {
		cod = []Surcharge{{Code: "COD", Amount: 6.50}}
	}
	codFee := 0.0
	if cod != nil {
		codFee = 6.50
	}

	return &RatesResponse{
		RequestID: "fc-req-" + uuid.New().String()[:8],
		Status:    "complete",
		Rates: []Rate{
			{
				ID:          "rate-" + uuid.New().String()[:8],
				ServiceID:   101,
				CarrierName: "FedEx",
				ServiceCode: "FEDEX_GROUND",
				ServiceName: "FedEx Ground",
				Surcharges:  cod,
				TotalPrice:  20.24 + codFee,
				Currency:    "CAD",
				TransitDays: 3,
			},
			{
				ID:          "rate-" + uuid.New().String()[:8],
				ServiceID:   102,
				CarrierName: "FedEx",
				ServiceCode: "FEDEX_EXPRESS_SAVER",
				ServiceName: "FedEx Express Saver",
				Surcharges:  cod,
				TotalPrice:  36.69 + codFee,
				Currency:    "CAD",
				TransitDays: 2,
			},
			{
				ID:          "rate-" + uuid.New().String()[:8],
				ServiceID:   201,
				CarrierName: "UPS",
				ServiceCode: "UPS_GROUND",
				ServiceName: "UPS Ground",
				Surcharges:  cod,
				TotalPrice:  18.35 + codFee,
				Currency:    "CAD",
				TransitDays: 4,
			},
		},
	}, nil
}

// CreateShipment creates a mock shipment and records it for later searches.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	shipmentID := "fc-ship-" + uuid.New().String()[:8]
	trackingNumber := fmt.Sprintf("%d", 100000000000+time.Now().UnixNano()%900000000000)
	m.AddShipment(ShipmentSummary{
		ID:             shipmentID,
		UniqueID:       req.UniqueID,
		TrackingNumber: trackingNumber,
		Status:         "booked",
	}, req.Details.Destination.Phone)

	return &ShipmentResponse{
		ID:              shipmentID,
		UniqueID:        req.UniqueID,
		Status:          "booked",
		TrackingNumbers: []string{trackingNumber},
		TrackingURL:     fmt.Sprintf("https://www.fedex.com/fedextrack/?trknbr=%s", trackingNumber),
		TotalCharged:    20.24,
		Currency:        "CAD",
		LabelURL:        fmt.Sprintf("https://api.freightcom.com/shipment/%s/label.pdf", shipmentID),
	}, nil
}

// SearchShipments returns the recorded shipments matching the search, most recent first.
func (m *MockAPIClient) SearchShipments(ctx context.Context, search ShipmentSearch) ([]ShipmentSummary, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnSearchShipments != nil {
		return m.OnSearchShipments(ctx, search)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ShipmentSummary
	for i := len(m.shipments) - 1; i >= 0; i-- {
		s := m.shipments[i]
		switch {
		case search.TrackingNumber != "" && s.summary.TrackingNumber == search.TrackingNumber,
			search.UniqueID != "" && s.summary.UniqueID == search.UniqueID,
			search.RecipientPhone != "" && s.phone == search.RecipientPhone:
			out = append(out, s.summary)
		}
	}
	return out, nil
}

// GetTracking retrieves mock tracking information.
func (m *MockAPIClient) GetTracking(ctx context.Context, shipmentID string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetTracking != nil {
		return m.OnGetTracking(ctx, shipmentID)
	}

	m.mu.Lock()
	var found *ShipmentSummary
	for i := range m.shipments {
		if m.shipments[i].summary.ID == shipmentID {
			s := m.shipments[i].summary
			found = &s
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, &APIError{Code: "NOT_FOUND", Message: "shipment not found", StatusCode: http.StatusNotFound}
	}

	now := time.Now()
	return &TrackingResponse{
		ShipmentID:     shipmentID,
		TrackingNumber: found.TrackingNumber,
		Status:         "in_transit",
		Events: []TrackingEvent{
			{
				Timestamp:   now.Add(-48 * time.Hour).Format(time.RFC3339),
				Description: "Shipment picked up",
				Location:    "Toronto, ON",
				Status:      "picked_up",
				Code:        "PU",
			},
			{
				Timestamp:   now.Add(-24 * time.Hour).Format(time.RFC3339),
				Description: "In transit to destination",
				Location:    "Mississauga, ON",
				Status:      "in_transit",
				Code:        "IT",
			},
		},
	}, nil
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
		return &APIError{Code: "MOCK_ERROR", Message: "Simulated API error", StatusCode: http.StatusServiceUnavailable}
	}
	return nil
}

var _ APIClient = (*MockAPIClient)(nil)
