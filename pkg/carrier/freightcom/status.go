package freightcom

import (
	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

// StatusTable maps Freightcom shipment and event statuses.
func StatusTable() status.Table {
	return status.Table{
		Codes: map[string]carrier.OrderState{
			"PENDING":          carrier.StateBooked,
			"PROCESSING":       carrier.StateBooked,
			"BOOKED":           carrier.StateBooked,
			"CONFIRMED":        carrier.StateBooked,
			"PU":               carrier.StatePickedUp,
			"PICKED_UP":        carrier.StatePickedUp,
			"IT":               carrier.StateInTransit,
			"IN_TRANSIT":       carrier.StateInTransit,
			"EXCEPTION":        carrier.StateInTransit,
			"OD":               carrier.StateOutForDelivery,
			"OUT_FOR_DELIVERY": carrier.StateOutForDelivery,
			"DL":               carrier.StateDelivered,
			"DELIVERED":        carrier.StateDelivered,
			"RS":               carrier.StateRTO,
			"RETURNED":         carrier.StateRTO,
			"RETURN_TO_SENDER": carrier.StateRTO,
			"CANCELLED":        carrier.StateFailed,
			"FAILED":           carrier.StateFailed,
			"LOST":             carrier.StateFailed,
		},
		Rules: []status.Rule{
			{Contains: "return to sender", State: carrier.StateRTO},
			{Contains: "returned to shipper", State: carrier.StateRTO},
			{Contains: "undeliverable", State: carrier.StateFailed},
			{Contains: "cancelled", State: carrier.StateFailed},
			{Contains: "delivery attempt", State: carrier.StateInTransit},
			{Contains: "not delivered", State: carrier.StateInTransit},
			{Contains: "undelivered", State: carrier.StateInTransit},
			{Contains: "out for delivery", State: carrier.StateOutForDelivery},
			{Contains: "delivered", State: carrier.StateDelivered},
			{Contains: "picked up", State: carrier.StatePickedUp},
			{Contains: "in transit", State: carrier.StateInTransit},
		},
	}
}
