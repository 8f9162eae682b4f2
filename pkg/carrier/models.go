package carrier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/govalues/decimal"
)

// OrderState is the canonical order lifecycle shared by every carrier.
type OrderState string

const (
	StateCreated        OrderState = "CREATED"
	StateBooked         OrderState = "BOOKED"
	StatePickedUp       OrderState = "PICKED_UP"
	StateInTransit      OrderState = "IN_TRANSIT"
	StateOutForDelivery OrderState = "OUT_FOR_DELIVERY"
	StateDelivered      OrderState = "DELIVERED"
	StateRTO            OrderState = "RTO"
	StateFailed         OrderState = "FAILED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateDelivered, StateRTO, StateFailed:
		return true
	}
	return false
}

// Valid reports whether s is part of the canonical lifecycle.
func (s OrderState) Valid() bool {
	switch s {
	case StateCreated, StateBooked, StatePickedUp, StateInTransit,
		StateOutForDelivery, StateDelivered, StateRTO, StateFailed:
		return true
	}
	return false
}

// ParseOrderState parses a canonical state name, case-insensitively.
func ParseOrderState(s string) (OrderState, error) {
	st := OrderState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown order state %q", s)
	}
	return st, nil
}

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightKG WeightUnit = "kg"
	WeightLB WeightUnit = "lb"
)

// DimensionUnit represents dimension measurement unit.
type DimensionUnit string

const (
	DimensionCM DimensionUnit = "cm"
	DimensionIN DimensionUnit = "in"
)

// ============================================================================
// Tracking
// ============================================================================

// QueryKind identifies which identifier drives a tracking query.
type QueryKind string

const (
	QueryWaybill QueryKind = "waybill"
	QueryOrderID QueryKind = "order_id"
	QueryPhone   QueryKind = "phone"
)

// Query is a tracking lookup. At least one identifier must be present; when
// several are, waybill wins over order id, which wins over phone.
type Query struct {
	Waybill string
	OrderID string
	Phone   string
}

// Normalize trims the identifiers and keeps only the one with the highest precedence.
func (q Query) Normalize() (Query, error) {
	switch {
	case strings.TrimSpace(q.Waybill) != "":
		return Query{Waybill: strings.TrimSpace(q.Waybill)}, nil
	case strings.TrimSpace(q.OrderID) != "":
		return Query{OrderID: strings.TrimSpace(q.OrderID)}, nil
	case strings.TrimSpace(q.Phone) != "":
		return Query{Phone: strings.TrimSpace(q.Phone)}, nil
	}
	return Query{}, ErrInvalidQuery
}

// Kind returns the identifier kind that drives the query.
func (q Query) Kind() QueryKind {
	switch {
	case q.Waybill != "":
		return QueryWaybill
	case q.OrderID != "":
		return QueryOrderID
	case q.Phone != "":
		return QueryPhone
	}
	return ""
}

// Value returns the identifier that drives the query.
func (q Query) Value() string {
	switch q.Kind() {
	case QueryWaybill:
		return q.Waybill
	case QueryOrderID:
		return q.OrderID
	case QueryPhone:
		return q.Phone
	}
	return ""
}

// Key is a stable cache key for a normalized query.
func (q Query) Key() string {
	return string(q.Kind()) + ":" + q.Value()
}

// RawEvent is a single scan as reported by a carrier.
type RawEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Code        string    `json:"code,omitempty"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
}

// ProviderResult is a carrier's answer to a tracking lookup, still in the
// carrier's own vocabulary. Payload holds the carrier-shaped response body.
type ProviderResult struct {
	Carrier   Identity        `json:"carrier"`
	Waybill   string          `json:"waybill"`
	RawStatus string          `json:"rawStatus"`
	RawEvents []RawEvent      `json:"rawEvents"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Recognizable reports whether the result carries any status information.
// An empty response is not a match even if the carrier answered without error.
func (r *ProviderResult) Recognizable() bool {
	if r == nil {
		return false
	}
	return strings.TrimSpace(r.RawStatus) != "" || len(r.RawEvents) > 0
}

// LatestEvent returns the most recent raw event, or nil if there are none.
// Ties resolve to the event listed last.
func (r *ProviderResult) LatestEvent() *RawEvent {
	if r == nil || len(r.RawEvents) == 0 {
		return nil
	}
	latest := &r.RawEvents[0]
	for i := 1; i < len(r.RawEvents); i++ {
		if !r.RawEvents[i].Timestamp.Before(latest.Timestamp) {
			latest = &r.RawEvents[i]
		}
	}
	return latest
}

// StatusInputs returns the raw status code and description to classify.
// The code falls back to the latest event code when the carrier sent no
// top-level status.
func (r *ProviderResult) StatusInputs() (raw, description string) {
	raw = r.RawStatus
	if latest := r.LatestEvent(); latest != nil {
		description = latest.Description
		if raw == "" {
			raw = latest.Code
		}
	}
	return raw, description
}

// CanonicalEvent is a raw event projected onto the canonical lifecycle.
type CanonicalEvent struct {
	Timestamp      time.Time  `json:"timestamp"`
	Location       string     `json:"location,omitempty"`
	State          OrderState `json:"state"`
	RawDescription string     `json:"rawDescription"`
}

// ============================================================================
// Rate shopping and booking
// ============================================================================

// Address represents a shipping address.
type Address struct {
	Name          string `json:"name"`
	Company       string `json:"company,omitempty"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	ProvinceCode  string `json:"provinceCode"` // e.g., "ON", "QC", "BC"
	PostalCode    string `json:"postalCode"`
	CountryCode   string `json:"countryCode"` // ISO 3166-1 alpha-2
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	IsResidential bool   `json:"isResidential,omitempty"`
}

// Package represents a package to be shipped.
type Package struct {
	Length        float64       `json:"length"`
	Width         float64       `json:"width"`
	Height        float64       `json:"height"`
	DimensionUnit DimensionUnit `json:"dimensionUnit"`
	Weight        float64       `json:"weight"`
	WeightUnit    WeightUnit    `json:"weightUnit"`
	Description   string        `json:"description,omitempty"`
}

// WeightKG returns the package weight in kilograms.
func (p Package) WeightKG() float64 {
	if p.WeightUnit == WeightLB {
		return p.Weight * 0.45359237
	}
	return p.Weight
}

// Shipment is what gets quoted and booked. Reference is the merchant order id.
type Shipment struct {
	Reference   string          `json:"reference"`
	Origin      Address         `json:"origin"`
	Destination Address         `json:"destination"`
	Packages    []Package       `json:"packages"`
	CODAmount   decimal.Decimal `json:"codAmount"`
	Currency    string          `json:"currency"`
}

// TotalWeightKG sums package weights in kilograms.
func (s *Shipment) TotalWeightKG() float64 {
	var total float64
	for _, p := range s.Packages {
		total += p.WeightKG()
	}
	return total
}

// IsCOD reports whether the shipment collects cash on delivery.
func (s *Shipment) IsCOD() bool {
	return s.CODAmount.IsPos()
}

// ServiceOption is one bookable service returned by rate shopping.
type ServiceOption struct {
	Carrier     Identity        `json:"carrier"`
	ServiceID   string          `json:"serviceId"`
	ServiceName string          `json:"serviceName"`
	Freight     decimal.Decimal `json:"freight"`
	CODCharge   decimal.Decimal `json:"codCharge"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	ETADays     *int            `json:"etaDays,omitempty"`
}

// NewServiceOption builds an option whose total is freight plus COD charge.
func NewServiceOption(id Identity, serviceID, name string, freight, cod decimal.Decimal, currency string, etaDays int) (ServiceOption, error) {
	total, err := freight.Add(cod)
	if err != nil {
		return ServiceOption{}, fmt.Errorf("pricing %s/%s: %w", id, serviceID, err)
	}
	opt := ServiceOption{
		Carrier:     id,
		ServiceID:   serviceID,
		ServiceName: name,
		Freight:     freight,
		CODCharge:   cod,
		Total:       total,
		Currency:    currency,
	}
	if etaDays > 0 {
		opt.ETADays = &etaDays
	}
	return opt, nil
}

// BookingResult is the carrier's confirmation of a booked shipment.
type BookingResult struct {
	Carrier     Identity        `json:"carrier"`
	Waybill     string          `json:"waybill"`
	ShipmentID  string          `json:"shipmentId,omitempty"`
	ServiceID   string          `json:"serviceId"`
	Charged     decimal.Decimal `json:"charged"`
	Currency    string          `json:"currency"`
	TrackingURL string          `json:"trackingUrl,omitempty"`
	LabelURL    string          `json:"labelUrl,omitempty"`
}

// Money converts a carrier-reported float amount into a decimal rounded to cents.
func Money(amount float64) (decimal.Decimal, error) {
	d, err := decimal.NewFromFloat64(amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("converting amount %v: %w", amount, err)
	}
	return d.Round(2).Pad(2), nil
}
