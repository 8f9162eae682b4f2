package purolator

import (
	"context"
)

// APIClient defines the interface for Purolator API operations.
// This abstraction allows for mock implementations during testing
// and real SOAP implementations in production.
type APIClient interface {
	// GetRates fetches shipping rates from Purolator EstimatingService
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	// CreateShipment creates a new shipment via ShippingService
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// GetTracking retrieves tracking information via TrackingService
	GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error)

	// GetTrackingByReference retrieves tracking for the most recent shipment
	// booked with the given reference
	GetTrackingByReference(ctx context.Context, reference string) (*TrackingResponse, error)
}

// ============================================================================
// API Request/Response Types (match Purolator SOAP API structure)
// ============================================================================

// RatesRequest represents a Purolator rate quote request.
type RatesRequest struct {
	BillingAccountNumber string
	SenderPostalCode     string
	ReceiverAddress      Address
	PackageInformation   PackageInformation
	CODAmount            string // Empty when the shipment is prepaid
}

// PackageInformation contains package details for rating.
type PackageInformation struct {
	TotalWeight Weight
	TotalPieces int
}

// Weight represents package weight.
type Weight struct {
	Value float64
	Unit  string // "lb" or "kg"
}

// Address represents a Purolator address.
type Address struct {
	Name          string
	Company       string
	StreetAddress string
	City          string
	Province      string
	PostalCode    string
	Country       string
	Phone         string
}

// RatesResponse represents the Purolator rate quote response.
type RatesResponse struct {
	ShipmentRates []ShipmentRate
}

// ShipmentRate represents a single rate option.
type ShipmentRate struct {
	ServiceCode          string
	ServiceName          string
	BasePrice            float64
	Surcharges           float64
	CODCharge            float64
	Taxes                float64
	TotalPrice           float64
	EstimatedTransitDays int
}

// ShipmentRequest represents a Purolator shipment creation request.
type ShipmentRequest struct {
	BillingAccountNumber string
	ServiceCode          string
	Reference            string
	Sender               Address
	Receiver             Address
	PackageInformation   PackageInformation
	CODAmount            string
	PrinterType          string // "Thermal" or "Regular"
}

// ShipmentResponse represents the Purolator shipment creation response.
type ShipmentResponse struct {
	ShipmentPIN string
	TotalPrice  float64
	LabelURL    string
}

// TrackingResponse represents tracking information. Scans are newest first.
type TrackingResponse struct {
	TrackingPIN string          `json:"pin"`
	Reference   string          `json:"reference,omitempty"`
	Status      string          `json:"status"`
	Events      []TrackingEvent `json:"scans"`
}

// TrackingEvent represents a single tracking scan.
type TrackingEvent struct {
	Timestamp   string `json:"timestamp"` // YYYY-MM-DDTHH:MM:SS
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	Type        string `json:"type"`
}

// APIError represents an error from the Purolator API.
type APIError struct {
	Code        string
	Description string
	StatusCode  int
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Description
}
