package status_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

func testTable() status.Table {
	return status.Table{
		Codes: map[string]carrier.OrderState{
			"ofd":       carrier.StateOutForDelivery,
			"DELIVERED": carrier.StateDelivered,
		},
		Rules: []status.Rule{
			{Contains: "return", State: carrier.StateRTO},
			{Contains: "delivered", State: carrier.StateDelivered},
			{Contains: "picked up", State: carrier.StatePickedUp},
		},
	}
}

func TestMapper_Precedence(t *testing.T) {
	m := status.NewMapper(nil)
	m.Register(carrier.CanadaPost, testTable())

	tests := []struct {
		name    string
		raw     string
		desc    string
		want    carrier.OrderState
		matched bool
	}{
		{"exact code wins over description", " ofd ", "Delivered to neighbour", carrier.StateOutForDelivery, true},
		{"description substring", "X99", "Package PICKED UP by driver", carrier.StatePickedUp, true},
		{"rule order decides", "", "Delivered back: return to sender", carrier.StateRTO, true},
		{"raw text used when description empty", "item delivered", "", carrier.StateDelivered, true},
		{"default bucket", "ZZZ", "something odd", carrier.StateInTransit, false},
		{"empty input", "", "", carrier.StateInTransit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := m.Resolve(carrier.CanadaPost, tt.raw, tt.desc)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestMapper_UnknownCarrierFallsBack(t *testing.T) {
	var gaps []string
	m := status.NewMapper(func(id carrier.Identity, raw, _ string) {
		gaps = append(gaps, string(id)+"/"+raw)
	})

	assert.Equal(t, status.DefaultState, m.Map(carrier.Purolator, "Delivered", "Delivered"))
	assert.Equal(t, []string{"purolator/Delivered"}, gaps)
}

func TestMapper_TotalOverArbitraryInput(t *testing.T) {
	m := status.NewMapper(nil)
	m.Register(carrier.CanadaPost, testTable())

	inputs := []string{"", " ", "\x00\xff", "🚚", "DELIVERED\n", "%s%d", string(make([]byte, 4096))}
	for _, raw := range inputs {
		for _, desc := range inputs {
			assert.NotPanics(t, func() {
				got := m.Map(carrier.CanadaPost, raw, desc)
				assert.True(t, got.Valid())
			})
		}
	}
}

func TestMapper_Extend(t *testing.T) {
	m := status.NewMapper(nil)
	m.Register(carrier.CanadaPost, testTable())
	m.Extend(carrier.CanadaPost, status.Table{
		Codes: map[string]carrier.OrderState{"ofd": carrier.StateInTransit},
		Rules: []status.Rule{{Contains: "delivered back", State: carrier.StateFailed}},
	})

	assert.Equal(t, carrier.StateInTransit, m.Map(carrier.CanadaPost, "OFD", ""))
	assert.Equal(t, carrier.StateFailed, m.Map(carrier.CanadaPost, "", "Delivered back: return to sender"))
	assert.Equal(t, carrier.StateDelivered, m.Map(carrier.CanadaPost, "DELIVERED", ""))
}

func TestMapper_MapResultUsesLatestEvent(t *testing.T) {
	m := status.NewMapper(nil)
	m.Register(carrier.CanadaPost, testTable())
	now := time.Now()

	state, matched := m.MapResult(&carrier.ProviderResult{
		Carrier: carrier.CanadaPost,
		RawEvents: []carrier.RawEvent{
			{Timestamp: now, Description: "Item delivered"},
			{Timestamp: now.Add(-2 * time.Hour), Description: "Picked up"},
		},
	})
	assert.True(t, matched)
	assert.Equal(t, carrier.StateDelivered, state)
}

func TestMapper_Events(t *testing.T) {
	var gaps int
	m := status.NewMapper(func(carrier.Identity, string, string) { gaps++ })
	m.Register(carrier.CanadaPost, testTable())
	now := time.Now()

	result := &carrier.ProviderResult{
		Carrier: carrier.CanadaPost,
		RawEvents: []carrier.RawEvent{
			{Timestamp: now, Code: "OFD", Description: "Out for delivery", Location: "Ottawa"},
			{Timestamp: now.Add(-3 * time.Hour), Description: "Picked up"},
			{Timestamp: now.Add(-time.Hour), Description: "Arrived at facility"},
		},
	}

	events := m.Events(result)
	require.Len(t, events, 3)
	assert.Equal(t, carrier.StatePickedUp, events[0].State)
	assert.Equal(t, carrier.StateInTransit, events[1].State)
	assert.Equal(t, carrier.StateOutForDelivery, events[2].State)
	assert.Equal(t, "Ottawa", events[2].Location)
	assert.Equal(t, 0, gaps)

	assert.Equal(t, events, m.Events(result), "projection must be deterministic")
}
