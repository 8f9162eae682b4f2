// Package order holds the merchant order record as far as carrier
// integration is concerned, and the stores that persist it.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

var (
	// ErrNotFound indicates no order matches the lookup key.
	ErrNotFound = errors.New("order not found")

	// ErrConflict indicates a conditional write lost against a concurrent writer.
	ErrConflict = errors.New("order modified concurrently")

	// ErrAlreadyBooked indicates the order already carries a waybill.
	ErrAlreadyBooked = carrier.ErrAlreadyBooked

	// ErrReserved indicates a live booking reservation is held by another attempt.
	ErrReserved = errors.New("order reserved by another booking attempt")
)

// Order is the slice of a merchant order touched by tracking and booking.
// Version increases on every successful write and is the token for
// conditional updates.
type Order struct {
	ID            string             `json:"id"`
	MerchantID    string             `json:"merchantId"`
	Waybill       string             `json:"waybill,omitempty"`
	Carrier       carrier.Identity   `json:"carrier,omitempty"`
	State         carrier.OrderState `json:"state"`
	LastRawStatus string             `json:"lastRawStatus,omitempty"`
	DeliveredAt   *time.Time         `json:"deliveredAt,omitempty"`
	Shipment      carrier.Shipment   `json:"shipment"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// IsBooked reports whether a carrier waybill has been assigned.
func (o *Order) IsBooked() bool {
	return o.Waybill != ""
}

// StateUpdate is the reconciler-owned part of an order.
type StateUpdate struct {
	State       carrier.OrderState
	RawStatus   string
	DeliveredAt *time.Time
}

// Booking is the booking-owned part of an order. Applying it also moves
// the order to BOOKED.
type Booking struct {
	Carrier carrier.Identity
	Waybill string
}

// Store persists orders. UpdateState and AssignBooking are conditional on
// version: a stale version yields ErrConflict and leaves the order
// untouched. Reservations do not change the version.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByWaybill(ctx context.Context, waybill string) (*Order, error)

	// UpdateState overwrites state, last raw status and delivery time.
	// It refuses to touch an order whose stored state is terminal.
	UpdateState(ctx context.Context, id string, version int64, u StateUpdate) (*Order, error)

	// AssignBooking sets carrier, waybill and BOOKED together. It returns
	// ErrAlreadyBooked if a waybill is already present.
	AssignBooking(ctx context.Context, id string, version int64, b Booking) (*Order, error)

	// ReserveBooking claims an unbooked order for one booking attempt
	// until the given time and returns the order as stored. It fails with
	// ErrAlreadyBooked once a waybill is present and with ErrReserved while
	// another token holds an unexpired reservation. AssignBooking clears
	// the reservation.
	ReserveBooking(ctx context.Context, id, token string, until time.Time) (*Order, error)

	// ReleaseBooking drops the reservation if token still holds it.
	ReleaseBooking(ctx context.Context, id, token string) error
}

// New builds an order in the CREATED state for a shipment.
func New(id, merchantID string, s carrier.Shipment) *Order {
	now := time.Now().UTC()
	if s.Reference == "" {
		s.Reference = id
	}
	return &Order{
		ID:         id,
		MerchantID: merchantID,
		State:      carrier.StateCreated,
		Shipment:   s,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
