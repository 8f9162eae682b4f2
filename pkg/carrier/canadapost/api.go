package canadapost

import (
	"context"
)

// APIClient defines the interface for Canada Post API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetRates fetches shipping rates from Canada Post API
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	// CreateShipment creates a new shipment order
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// GetTracking retrieves the tracking detail for a PIN
	GetTracking(ctx context.Context, pin string) (*TrackingResponse, error)

	// FindPINs returns the PINs whose customer reference matches ref, most recent first
	FindPINs(ctx context.Context, ref string) ([]string, error)
}

// ============================================================================
// API Request/Response Types (match Canada Post REST/XML API structure)
// ============================================================================

// RatesRequest represents a Canada Post rate quote request.
type RatesRequest struct {
	CustomerNumber string
	Weight         float64 // kg
	Dimensions     Dimensions
	OriginPostal   string
	Destination    Destination
	Options        []Option
}

// Dimensions represents package dimensions in cm.
type Dimensions struct {
	Length float64
	Width  float64
	Height float64
}

// Destination represents shipping destination.
type Destination struct {
	PostalCode  string
	CountryCode string
}

// Option represents a shipping option such as COD.
type Option struct {
	Code   string
	Amount string
}

// RatesResponse represents the Canada Post rate quote response.
type RatesResponse struct {
	Rates []Rate
}

// Rate represents a single shipping rate option.
type Rate struct {
	ServiceCode     string
	ServiceName     string
	TotalPrice      float64
	CODCharge       float64
	ExpectedTransit int
}

// ShipmentRequest represents a Canada Post shipment creation request.
type ShipmentRequest struct {
	GroupID          string
	ServiceCode      string
	CustomerRef      string
	Sender           Address
	Destination      Address
	ParcelWeight     float64
	ParcelDimensions Dimensions
	Options          []Option
}

// Address represents a Canada Post address.
type Address struct {
	Name         string
	Company      string
	AddressLine1 string
	AddressLine2 string
	City         string
	Province     string
	PostalCode   string
	CountryCode  string
	Phone        string
}

// ShipmentResponse represents the Canada Post shipment creation response.
type ShipmentResponse struct {
	ShipmentID     string
	TrackingPIN    string
	ShipmentStatus string
	LabelURL       string
	TotalCharged   float64
}

// TrackingResponse represents tracking information. Events are newest first,
// as Canada Post returns them.
type TrackingResponse struct {
	TrackingPIN  string          `json:"pin"`
	CustomerRef  string          `json:"customerRef,omitempty"`
	Status       string          `json:"status"`
	ExpectedDate string          `json:"expectedDeliveryDate,omitempty"`
	Events       []TrackingEvent `json:"events"`
}

// TrackingEvent represents a single tracking event.
type TrackingEvent struct {
	Identifier  string `json:"identifier"`
	Date        string `json:"date"` // YYYY-MM-DD
	Time        string `json:"time"` // HH:MM:SS
	Description string `json:"description"`
	Site        string `json:"site,omitempty"`
	Province    string `json:"province,omitempty"`
}

// APIError represents an error from the Canada Post API.
type APIError struct {
	Code        string
	Description string
	StatusCode  int
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Description
}
