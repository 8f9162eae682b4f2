package carrier_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/mock"
)

func TestRegistry_Register(t *testing.T) {
	registry := carrier.NewRegistry()

	registry.Register(mock.New(carrier.CanadaPost))

	got, err := registry.Get(carrier.CanadaPost)
	require.NoError(t, err, "carrier should be registered")
	assert.Equal(t, carrier.CanadaPost, got.Name())
}

func TestRegistry_Register_OverrideKeepsPriority(t *testing.T) {
	registry := carrier.NewRegistry()

	registry.Register(mock.New(carrier.Freightcom))
	registry.Register(mock.New(carrier.CanadaPost))
	registry.Register(mock.New(carrier.Freightcom))

	assert.Equal(t, 2, registry.Count())
	assert.Equal(t, []carrier.Identity{carrier.Freightcom, carrier.CanadaPost}, registry.Names())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	registry := carrier.NewRegistry()

	_, err := registry.Get(carrier.Purolator)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, carrier.ErrCarrierNotRegistered))
}

func TestRegistry_SetPriority(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New(carrier.Freightcom))
	registry.Register(mock.New(carrier.CanadaPost))
	registry.Register(mock.New(carrier.Purolator))

	registry.SetPriority([]carrier.Identity{carrier.Purolator, carrier.Freightcom})

	assert.Equal(t, []carrier.Identity{carrier.Purolator, carrier.Freightcom, carrier.CanadaPost}, registry.Names())
}

func TestRegistry_Timeouts(t *testing.T) {
	registry := carrier.NewRegistry(carrier.WithDefaultTimeout(3 * time.Second))
	registry.SetTimeout(carrier.Purolator, 500*time.Millisecond)

	assert.Equal(t, 3*time.Second, registry.TimeoutFor(carrier.Freightcom))
	assert.Equal(t, 500*time.Millisecond, registry.TimeoutFor(carrier.Purolator))
}

func TestRegistry_LookupAll_IsolatesFailures(t *testing.T) {
	registry := carrier.NewRegistry(carrier.WithDefaultTimeout(50 * time.Millisecond))
	registry.Register(mock.New(carrier.Freightcom, mock.WithLatency(time.Second)))
	registry.Register(mock.New(carrier.CanadaPost, mock.WithLookupResult("OFD")))
	registry.Register(mock.New(carrier.Purolator, mock.WithLookupError(errors.New("boom"))))

	outcomes := registry.LookupAll(context.Background(), carrier.Query{Waybill: "AWB123"})
	require.Len(t, outcomes, 3)

	assert.Equal(t, carrier.Freightcom, outcomes[0].Carrier)
	assert.True(t, errors.Is(outcomes[0].Err, carrier.ErrTransient), "timeout should classify as transient")

	assert.Equal(t, carrier.CanadaPost, outcomes[1].Carrier)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, "OFD", outcomes[1].Result.RawStatus)
	assert.Equal(t, carrier.CanadaPost, outcomes[1].Result.Carrier)

	assert.Equal(t, carrier.Purolator, outcomes[2].Carrier)
	assert.Error(t, outcomes[2].Err)
}

func TestRegistry_LookupAll_EmptyResultIsFailure(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New(carrier.Freightcom, mock.WithLookup(func(context.Context, carrier.Query) (*carrier.ProviderResult, error) {
		return &carrier.ProviderResult{Waybill: "AWB123"}, nil
	})))

	outcomes := registry.LookupAll(context.Background(), carrier.Query{Waybill: "AWB123"})
	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].Result)
	assert.True(t, errors.Is(outcomes[0].Err, carrier.ErrEmptyResult))
}

func TestRegistry_LookupAll_RecoversPanics(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New(carrier.Freightcom, mock.WithLookup(func(context.Context, carrier.Query) (*carrier.ProviderResult, error) {
		panic("nil map")
	})))
	registry.Register(mock.New(carrier.CanadaPost, mock.WithLookupResult("DELIVERED")))

	outcomes := registry.LookupAll(context.Background(), carrier.Query{Waybill: "AWB123"})
	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
}

func TestRegistry_LookupAll_Subset(t *testing.T) {
	registry := carrier.NewRegistry()
	fc := mock.New(carrier.Freightcom)
	cp := mock.New(carrier.CanadaPost)
	registry.Register(fc)
	registry.Register(cp)

	outcomes := registry.LookupAll(context.Background(), carrier.Query{Waybill: "AWB123"}, carrier.CanadaPost)
	require.Len(t, outcomes, 1)
	assert.Equal(t, carrier.CanadaPost, outcomes[0].Carrier)
	assert.Equal(t, 0, fc.LookupCalls())
	assert.Equal(t, 1, cp.LookupCalls())
}

func TestRegistry_LookupAll_WaitsForSlowCarriers(t *testing.T) {
	registry := carrier.NewRegistry(carrier.WithDefaultTimeout(time.Second))
	registry.Register(mock.New(carrier.Freightcom, mock.WithLatency(80*time.Millisecond), mock.WithLookupResult("DELIVERED")))
	registry.Register(mock.New(carrier.CanadaPost, mock.WithLookupError(carrier.NewCarrierError(carrier.CanadaPost, "NOT_FOUND", "unknown pin"))))

	outcomes := registry.LookupAll(context.Background(), carrier.Query{Waybill: "AWB123"})
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err, "slow carrier must not be pre-empted by a fast failure")
	assert.Equal(t, "DELIVERED", outcomes[0].Result.RawStatus)
}

func TestRegistry_QuoteAll(t *testing.T) {
	three := func(context.Context, *carrier.Shipment) ([]carrier.ServiceOption, error) {
		var opts []carrier.ServiceOption
		for _, id := range []string{"GROUND", "EXPRESS", "OVERNIGHT"} {
			opt, err := carrier.NewServiceOption("", id, id, decimal.MustNew(1000, 2), decimal.Decimal{}, "CAD", 3)
			if err != nil {
				return nil, err
			}
			opts = append(opts, opt)
		}
		return opts, nil
	}

	registry := carrier.NewRegistry()
	registry.Register(mock.New(carrier.Freightcom, mock.WithQuote(three)))
	registry.Register(mock.New(carrier.CanadaPost, mock.WithQuoteError(errors.New("503"))))

	outcomes := registry.QuoteAll(context.Background(), &carrier.Shipment{})
	require.Len(t, outcomes, 2)
	assert.Len(t, outcomes[0].Options, 3)
	for _, opt := range outcomes[0].Options {
		assert.Equal(t, carrier.Freightcom, opt.Carrier)
	}
	assert.Error(t, outcomes[1].Err)
}

func TestRegistry_QuoteAll_SkipsIneligible(t *testing.T) {
	heavy := &carrier.Shipment{Packages: []carrier.Package{{Weight: 80, WeightUnit: carrier.WeightKG}}}

	registry := carrier.NewRegistry()
	cp := mock.New(carrier.CanadaPost, mock.WithServes(func(s *carrier.Shipment) bool {
		return s.TotalWeightKG() <= 30
	}))
	registry.Register(mock.New(carrier.Freightcom))
	registry.Register(cp)

	outcomes := registry.QuoteAll(context.Background(), heavy)
	require.Len(t, outcomes, 1)
	assert.Equal(t, carrier.Freightcom, outcomes[0].Carrier)
	assert.Equal(t, 0, cp.QuoteCalls())
}

func TestRegistry_Book(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New(carrier.Purolator))

	res, err := registry.Book(context.Background(), &carrier.Shipment{}, carrier.ServiceOption{Carrier: carrier.Purolator, ServiceID: "PurolatorGround"})
	require.NoError(t, err)
	assert.Equal(t, carrier.Purolator, res.Carrier)
	assert.NotEmpty(t, res.Waybill)
}

func TestRegistry_Book_EmptyWaybillIsTransient(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New(carrier.Purolator, mock.WithBook(func(context.Context, *carrier.Shipment, carrier.ServiceOption) (*carrier.BookingResult, error) {
		return &carrier.BookingResult{}, nil
	})))

	_, err := registry.Book(context.Background(), &carrier.Shipment{}, carrier.ServiceOption{Carrier: carrier.Purolator})
	assert.True(t, errors.Is(err, carrier.ErrTransient))
}

func TestRegistry_Observer(t *testing.T) {
	var mu sync.Mutex
	seen := map[carrier.Identity]string{}
	registry := carrier.NewRegistry(carrier.WithObserver(func(op string, id carrier.Identity, _ time.Duration, _ error) {
		mu.Lock()
		defer mu.Unlock()
		seen[id] = op
	}))
	registry.Register(mock.New(carrier.Freightcom))
	registry.Register(mock.New(carrier.CanadaPost))

	registry.LookupAll(context.Background(), carrier.Query{Waybill: "X"})

	assert.Equal(t, map[carrier.Identity]string{
		carrier.Freightcom: carrier.OpLookup,
		carrier.CanadaPost: carrier.OpLookup,
	}, seen)
}

func TestRegistry_LookupAll_ResultsAreIndependent(t *testing.T) {
	registry := carrier.NewRegistry()
	registry.Register(mock.New(carrier.CanadaPost, mock.WithLookupResult("OFD")))

	first := registry.LookupAll(context.Background(), carrier.Query{Waybill: "AWB1"})
	second := registry.LookupAll(context.Background(), carrier.Query{Waybill: "AWB2"})

	require.NoError(t, first[0].Err)
	require.NoError(t, second[0].Err)
	assert.NotSame(t, first[0].Result, second[0].Result)
	assert.Equal(t, carrier.CanadaPost, first[0].Result.Carrier)
	assert.Equal(t, "AWB1", first[0].Result.Waybill)
	assert.Equal(t, "AWB2", second[0].Result.Waybill)
}
