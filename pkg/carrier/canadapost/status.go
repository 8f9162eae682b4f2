package canadapost

import (
	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

// StatusTable maps Canada Post event identifiers and descriptions. Canada
// Post identifiers are mostly opaque, so descriptions carry most of the load.
func StatusTable() status.Table {
	return status.Table{
		Codes: map[string]carrier.OrderState{
			"CREATED":          carrier.StateBooked,
			"ACCEPTED":         carrier.StatePickedUp,
			"INDUCTION":        carrier.StatePickedUp,
			"IN_TRANSIT":       carrier.StateInTransit,
			"OFD":              carrier.StateOutForDelivery,
			"OUT_FOR_DELIVERY": carrier.StateOutForDelivery,
			"DELIVERED":        carrier.StateDelivered,
			"RTS":              carrier.StateRTO,
			"RETURNED":         carrier.StateRTO,
			"VOIDED":           carrier.StateFailed,
		},
		Rules: []status.Rule{
			{Contains: "return to sender", State: carrier.StateRTO},
			{Contains: "returned to sender", State: carrier.StateRTO},
			{Contains: "being returned", State: carrier.StateRTO},
			{Contains: "cancelled", State: carrier.StateFailed},
			{Contains: "undeliverable", State: carrier.StateFailed},
			{Contains: "delivery attempted", State: carrier.StateInTransit},
			{Contains: "notice card", State: carrier.StateInTransit},
			{Contains: "out for delivery", State: carrier.StateOutForDelivery},
			{Contains: "delivered", State: carrier.StateDelivered},
			{Contains: "electronic information submitted", State: carrier.StateBooked},
			{Contains: "accepted at the post office", State: carrier.StatePickedUp},
			{Contains: "picked up by canada post", State: carrier.StatePickedUp},
			{Contains: "processed", State: carrier.StateInTransit},
		},
	}
}
