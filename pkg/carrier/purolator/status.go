package purolator

import (
	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

// StatusTable maps Purolator scan types and scan descriptions.
func StatusTable() status.Table {
	return status.Table{
		Codes: map[string]carrier.OrderState{
			"CREATED":        carrier.StateBooked,
			"PROOFOFPICKUP":  carrier.StatePickedUp,
			"PICKEDUP":       carrier.StatePickedUp,
			"INTRANSIT":      carrier.StateInTransit,
			"ONDELIVERY":     carrier.StateOutForDelivery,
			"OUTFORDELIVERY": carrier.StateOutForDelivery,
			"DELIVERED":      carrier.StateDelivered,
			"RETURNTOSENDER": carrier.StateRTO,
			"EXCEPTION":      carrier.StateInTransit,
			"CANCELLED":      carrier.StateFailed,
		},
		Rules: []status.Rule{
			{Contains: "return to sender", State: carrier.StateRTO},
			{Contains: "returned to shipper", State: carrier.StateRTO},
			{Contains: "shipment cancelled", State: carrier.StateFailed},
			{Contains: "attempted delivery", State: carrier.StateInTransit},
			{Contains: "on vehicle for delivery", State: carrier.StateOutForDelivery},
			{Contains: "out for delivery", State: carrier.StateOutForDelivery},
			{Contains: "shipment delivered", State: carrier.StateDelivered},
			{Contains: "delivered to", State: carrier.StateDelivered},
			{Contains: "picked up by purolator", State: carrier.StatePickedUp},
			{Contains: "shipment created", State: carrier.StateBooked},
			{Contains: "arrived at sort facility", State: carrier.StateInTransit},
			{Contains: "departed sort facility", State: carrier.StateInTransit},
		},
	}
}
