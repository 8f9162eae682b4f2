package freightcom

import (
	"context"
)

// APIClient defines the interface for Freightcom API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetRates fetches shipping rates from Freightcom API
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	// CreateShipment creates a new shipment order
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// SearchShipments finds shipments by tracking number, unique id or recipient phone
	SearchShipments(ctx context.Context, search ShipmentSearch) ([]ShipmentSummary, error)

	// GetTracking retrieves tracking events for a shipment
	GetTracking(ctx context.Context, shipmentID string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types (match Freightcom REST API v2 structure)
// ============================================================================

// RatesRequest represents a Freightcom rate quote request.
// POST /rate endpoint
type RatesRequest struct {
	Services []int           `json:"services,omitempty"` // Service IDs to query (all if omitted)
	Details  ShippingDetails `json:"details"`
}

// ShippingDetails contains shipping information for rate and shipment requests.
type ShippingDetails struct {
	Origin         Location        `json:"origin"`
	Destination    Location        `json:"destination"`
	Packaging      PackagingInfo   `json:"packaging"`
	CashOnDelivery *CashOnDelivery `json:"cash_on_delivery,omitempty"`
}

// CashOnDelivery asks the carrier to collect payment at the door.
type CashOnDelivery struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Location represents origin or destination.
type Location struct {
	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address_1"`
	Address2    string `json:"address_2,omitempty"`
	City        string `json:"city"`
	Province    string `json:"province"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"` // ISO 3166-1 alpha-2 code
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Residential bool   `json:"residential,omitempty"`
}

// PackagingInfo contains package details.
type PackagingInfo struct {
	Type     string    `json:"type"` // "package", "envelope", "pallet"
	Packages []Package `json:"packages"`
}

// Package represents a single package.
type Package struct {
	Length      float64 `json:"length"` // cm
	Width       float64 `json:"width"`  // cm
	Height      float64 `json:"height"` // cm
	Weight      float64 `json:"weight"` // kg
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity,omitempty"`
}

// RateRequestResponse is the initial response from POST /rate (async).
type RateRequestResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // "pending", "complete", "error"
}

// RatesResponse represents the Freightcom rate quote response.
// GET /rate/{rate_id} endpoint
type RatesResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // "pending", "complete", "error"
	Rates     []Rate `json:"rates,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Rate represents a single shipping rate option.
type Rate struct {
	ID          string      `json:"id"`
	ServiceID   int         `json:"service_id"`
	CarrierName string      `json:"carrier_name"`
	ServiceCode string      `json:"service_code"`
	ServiceName string      `json:"service_name"`
	Surcharges  []Surcharge `json:"surcharges,omitempty"`
	TotalPrice  float64     `json:"total_price"`
	Currency    string      `json:"currency"`
	TransitDays int         `json:"transit_days"`
}

// Surcharge represents an additional charge. COD fees use code "COD".
type Surcharge struct {
	Code   string  `json:"code"`
	Amount float64 `json:"amount"`
}

// ShipmentRequest represents a Freightcom shipment creation request.
// POST /shipment endpoint
type ShipmentRequest struct {
	UniqueID        string          `json:"unique_id"`         // Max 128 chars, prevents duplicates
	PaymentMethodID int             `json:"payment_method_id"` // From /finance/payment-methods
	ServiceID       int             `json:"service_id"`
	Details         ShippingDetails `json:"details"`
	Reference       string          `json:"reference,omitempty"`
}

// ShipmentResponse represents the Freightcom shipment creation response.
type ShipmentResponse struct {
	ID                string   `json:"id"`
	UniqueID          string   `json:"unique_id"`
	PreviouslyCreated bool     `json:"previously_created"`
	Status            string   `json:"status"`
	TrackingNumbers   []string `json:"tracking_numbers"`
	TrackingURL       string   `json:"tracking_url,omitempty"`
	TotalCharged      float64  `json:"total_charged"`
	Currency          string   `json:"currency"`
	LabelURL          string   `json:"label_url,omitempty"`
}

// ShipmentSearch filters GET /shipment. Exactly one field is expected.
type ShipmentSearch struct {
	TrackingNumber string
	UniqueID       string
	RecipientPhone string
}

// ShipmentSummary is one entry of a shipment search, most recent first.
type ShipmentSummary struct {
	ID             string `json:"id"`
	UniqueID       string `json:"unique_id"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
}

// TrackingResponse represents tracking information.
// GET /shipment/{shipment_id}/tracking-events
type TrackingResponse struct {
	ShipmentID     string          `json:"shipment_id"`
	TrackingNumber string          `json:"tracking_number"`
	Status         string          `json:"status"`
	Events         []TrackingEvent `json:"events"`
}

// TrackingEvent represents a single tracking event.
type TrackingEvent struct {
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	Code        string `json:"code,omitempty"`
}

// APIError represents an error from the Freightcom API.
type APIError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Errors     map[string]string `json:"errors,omitempty"` // Field-level errors
	StatusCode int               `json:"-"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
