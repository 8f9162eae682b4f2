// Package events publishes order lifecycle notifications to a message broker.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

// Event types.
const (
	TypeOrderStateChanged = "order.state_changed"
	TypeOrderBooked       = "order.booked"
)

// Event is anything that can be published. Key groups events of the same
// order so brokers keep them in order.
type Event interface {
	EventType() string
	Key() string
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// OrderStateChanged is emitted after the reconciler writes a new state.
type OrderStateChanged struct {
	ID         string             `json:"id"`
	OrderID    string             `json:"orderId"`
	MerchantID string             `json:"merchantId"`
	Carrier    carrier.Identity   `json:"carrier"`
	Waybill    string             `json:"waybill"`
	From       carrier.OrderState `json:"from"`
	To         carrier.OrderState `json:"to"`
	RawStatus  string             `json:"rawStatus"`
	OccurredAt time.Time          `json:"occurredAt"`
}

func (e OrderStateChanged) EventType() string { return TypeOrderStateChanged }
func (e OrderStateChanged) Key() string       { return e.OrderID }

// OrderBooked is emitted once a booking has been stored on the order.
type OrderBooked struct {
	ID         string           `json:"id"`
	OrderID    string           `json:"orderId"`
	MerchantID string           `json:"merchantId"`
	Carrier    carrier.Identity `json:"carrier"`
	Waybill    string           `json:"waybill"`
	ServiceID  string           `json:"serviceId"`
	Charged    string           `json:"charged"`
	Currency   string           `json:"currency"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func (e OrderBooked) EventType() string { return TypeOrderBooked }
func (e OrderBooked) Key() string       { return e.OrderID }

// NewID returns a fresh event id.
func NewID() string {
	return uuid.NewString()
}

// envelope is the wire shape shared by all brokers.
type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(envelope{Type: e.EventType(), Data: e})
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

var _ Publisher = Nop{}
