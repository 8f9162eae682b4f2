package carrier_test

import (
	"testing"
	"time"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

func TestQuery_Normalize(t *testing.T) {
	tests := []struct {
		name  string
		in    carrier.Query
		kind  carrier.QueryKind
		value string
	}{
		{"waybill wins", carrier.Query{Waybill: " AWB1 ", OrderID: "ORD1", Phone: "555"}, carrier.QueryWaybill, "AWB1"},
		{"order id over phone", carrier.Query{OrderID: "ORD1", Phone: "555"}, carrier.QueryOrderID, "ORD1"},
		{"phone only", carrier.Query{Phone: "5551234"}, carrier.QueryPhone, "5551234"},
		{"blank waybill ignored", carrier.Query{Waybill: "  ", Phone: "5551234"}, carrier.QueryPhone, "5551234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.in.Normalize()
			require.NoError(t, err)
			assert.Equal(t, tt.kind, q.Kind())
			assert.Equal(t, tt.value, q.Value())
			assert.Equal(t, string(tt.kind)+":"+tt.value, q.Key())
		})
	}

	_, err := carrier.Query{}.Normalize()
	assert.ErrorIs(t, err, carrier.ErrInvalidQuery)
}

func TestOrderState_IsTerminal(t *testing.T) {
	for _, s := range []carrier.OrderState{carrier.StateDelivered, carrier.StateRTO, carrier.StateFailed} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []carrier.OrderState{carrier.StateCreated, carrier.StateBooked, carrier.StatePickedUp, carrier.StateInTransit, carrier.StateOutForDelivery} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestParseOrderState(t *testing.T) {
	s, err := carrier.ParseOrderState("out_for_delivery")
	require.NoError(t, err)
	assert.Equal(t, carrier.StateOutForDelivery, s)

	_, err = carrier.ParseOrderState("LOST")
	assert.Error(t, err)
}

func TestParsePriority(t *testing.T) {
	ids, err := carrier.ParsePriority("canadapost, Freightcom,canadapost,")
	require.NoError(t, err)
	assert.Equal(t, []carrier.Identity{carrier.CanadaPost, carrier.Freightcom}, ids)

	_, err = carrier.ParsePriority("canadapost,fedex")
	assert.ErrorIs(t, err, carrier.ErrCarrierNotRegistered)
}

func TestProviderResult_StatusInputs(t *testing.T) {
	now := time.Now()
	r := &carrier.ProviderResult{
		RawEvents: []carrier.RawEvent{
			{Timestamp: now, Code: "OFD", Description: "Out for delivery"},
			{Timestamp: now.Add(-time.Hour), Code: "IT", Description: "In transit"},
		},
	}

	raw, desc := r.StatusInputs()
	assert.Equal(t, "OFD", raw)
	assert.Equal(t, "Out for delivery", desc)
	assert.True(t, r.Recognizable())

	r.RawStatus = "DELIVERED"
	raw, _ = r.StatusInputs()
	assert.Equal(t, "DELIVERED", raw)

	assert.False(t, (&carrier.ProviderResult{}).Recognizable())
	assert.False(t, (*carrier.ProviderResult)(nil).Recognizable())
}

func TestNewServiceOption(t *testing.T) {
	opt, err := carrier.NewServiceOption(carrier.CanadaPost, "DOM.EP", "Expedited Parcel", decimal.MustNew(1895, 2), decimal.MustNew(450, 2), "CAD", 2)
	require.NoError(t, err)
	assert.Equal(t, "23.45", opt.Total.String())
	require.NotNil(t, opt.ETADays)
	assert.Equal(t, 2, *opt.ETADays)

	noETA, err := carrier.NewServiceOption(carrier.CanadaPost, "DOM.RP", "Regular Parcel", decimal.MustNew(1000, 2), decimal.Decimal{}, "CAD", 0)
	require.NoError(t, err)
	assert.Nil(t, noETA.ETADays)
}

func TestShipment_TotalWeightKG(t *testing.T) {
	s := &carrier.Shipment{Packages: []carrier.Package{
		{Weight: 10, WeightUnit: carrier.WeightKG},
		{Weight: 10, WeightUnit: carrier.WeightLB},
	}}
	assert.InDelta(t, 14.5359, s.TotalWeightKG(), 0.001)
}
