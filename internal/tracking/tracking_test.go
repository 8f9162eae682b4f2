package tracking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/cache/rediscache"
	"github.com/tournevent/carrierhub/internal/events"
	"github.com/tournevent/carrierhub/internal/order"
	"github.com/tournevent/carrierhub/internal/tracking"
	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/canadapost"
	"github.com/tournevent/carrierhub/pkg/carrier/freightcom"
	"github.com/tournevent/carrierhub/pkg/carrier/mock"
	"github.com/tournevent/carrierhub/pkg/carrier/purolator"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

var nopLogger = otelzap.New(zap.NewNop())

func newMapper() *status.Mapper {
	m := status.NewMapper(nil)
	m.Register(carrier.Freightcom, freightcom.StatusTable())
	m.Register(carrier.CanadaPost, canadapost.StatusTable())
	m.Register(carrier.Purolator, purolator.StatusTable())
	return m
}

func newRegistry(clients ...carrier.Client) *carrier.Registry {
	r := carrier.NewRegistry(carrier.WithDefaultTimeout(50 * time.Millisecond))
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

func seedOrder(t *testing.T, store order.Store, id, waybill string, c carrier.Identity, state carrier.OrderState) *order.Order {
	t.Helper()
	o := order.New(id, "merchant-1", carrier.Shipment{})
	o.Waybill = waybill
	o.Carrier = c
	o.State = state
	require.NoError(t, store.Create(context.Background(), o))
	return o
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// cancelAwareStore fails writes when the context is already done.
type cancelAwareStore struct {
	*order.MemoryStore
}

func (s cancelAwareStore) UpdateState(ctx context.Context, id string, version int64, u order.StateUpdate) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.UpdateState(ctx, id, version, u)
}

func TestCoordinator_AWB123Scenario(t *testing.T) {
	store := order.NewMemoryStore()
	seedOrder(t, store, "ord-1", "AWB123", carrier.CanadaPost, carrier.StateInTransit)
	mapper := newMapper()
	pub := &recordingPublisher{}

	registry := newRegistry(
		mock.New(carrier.Freightcom, mock.WithLatency(time.Second)),
		mock.New(carrier.CanadaPost, mock.WithLookupResult("OFD")),
		mock.New(carrier.Purolator, mock.WithLatency(time.Second)),
	)
	reconciler := tracking.NewReconciler(store, mapper, nopLogger, tracking.WithPublisher(pub))
	coord := tracking.NewCoordinator(registry, mapper, reconciler, nopLogger)

	m, err := coord.Track(context.Background(), carrier.Query{Waybill: "AWB123"})

	require.NoError(t, err)
	assert.Equal(t, carrier.CanadaPost, m.Carrier)
	assert.Equal(t, carrier.StateOutForDelivery, m.State)
	assert.JSONEq(t, `{"status":"OFD"}`, string(m.Data))

	o, err := store.FindByWaybill(context.Background(), "AWB123")
	require.NoError(t, err)
	assert.Equal(t, carrier.StateOutForDelivery, o.State)
	assert.Equal(t, "OFD", o.LastRawStatus)

	require.Len(t, pub.events, 1)
	changed := pub.events[0].(events.OrderStateChanged)
	assert.Equal(t, carrier.StateInTransit, changed.From)
	assert.Equal(t, carrier.StateOutForDelivery, changed.To)
}

func TestCoordinator_PriorityBeatsLatency(t *testing.T) {
	high := mock.New(carrier.Freightcom, mock.WithLatency(30*time.Millisecond), mock.WithLookupResult("DELIVERED"))
	low := mock.New(carrier.CanadaPost, mock.WithLookupResult("OFD"))
	coord := tracking.NewCoordinator(newRegistry(high, low), newMapper(), nil, nopLogger)

	for i := 0; i < 5; i++ {
		m, err := coord.Track(context.Background(), carrier.Query{Waybill: "W1"})
		require.NoError(t, err)
		assert.Equal(t, carrier.Freightcom, m.Carrier)
	}
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	cases := []struct {
		name    string
		winner  carrier.Identity
		clients func() []carrier.Client
	}{
		{
			name:   "first succeeds",
			winner: carrier.Freightcom,
			clients: func() []carrier.Client {
				return []carrier.Client{
					mock.New(carrier.Freightcom, mock.WithLookupResult("IN_TRANSIT")),
					mock.New(carrier.CanadaPost, mock.WithLookupError(errors.New("boom"))),
					mock.New(carrier.Purolator, mock.WithLatency(time.Second)),
				}
			},
		},
		{
			name:   "last succeeds after panics and empty answers",
			winner: carrier.Purolator,
			clients: func() []carrier.Client {
				return []carrier.Client{
					mock.New(carrier.Freightcom, mock.WithLookup(func(context.Context, carrier.Query) (*carrier.ProviderResult, error) {
						panic("bad payload")
					})),
					mock.New(carrier.CanadaPost, mock.WithLookupResult("")),
					mock.New(carrier.Purolator, mock.WithLookupResult("Delivered")),
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coord := tracking.NewCoordinator(newRegistry(tc.clients()...), newMapper(), nil, nopLogger)
			m, err := coord.Track(context.Background(), carrier.Query{Waybill: "X"})
			require.NoError(t, err)
			assert.Equal(t, tc.winner, m.Carrier)
		})
	}
}

func TestCoordinator_NotFound(t *testing.T) {
	coord := tracking.NewCoordinator(newRegistry(
		mock.New(carrier.Freightcom, mock.WithLookupError(carrier.NewCarrierError(carrier.Freightcom, "NOT_FOUND", "no shipment").WithStatusCode(404))),
		mock.New(carrier.CanadaPost, mock.WithLatency(time.Second)),
		mock.New(carrier.Purolator, mock.WithLookupError(carrier.ErrUnsupportedQuery)),
	), newMapper(), nil, nopLogger)

	_, err := coord.Track(context.Background(), carrier.Query{Phone: "5551234"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, carrier.ErrNotFound))
	var nf *carrier.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, []carrier.Identity{carrier.Freightcom, carrier.CanadaPost, carrier.Purolator}, nf.Attempted)
	assert.Equal(t, carrier.QueryPhone, nf.Query.Kind())
}

func TestCoordinator_InvalidQuery(t *testing.T) {
	coord := tracking.NewCoordinator(newRegistry(mock.New(carrier.Freightcom)), newMapper(), nil, nopLogger)

	_, err := coord.Track(context.Background(), carrier.Query{})
	assert.ErrorIs(t, err, carrier.ErrInvalidQuery)
}

func TestCoordinator_TrackWithRestrictsCarriers(t *testing.T) {
	fc := mock.New(carrier.Freightcom)
	cp := mock.New(carrier.CanadaPost)
	coord := tracking.NewCoordinator(newRegistry(fc, cp), newMapper(), nil, nopLogger)

	m, err := coord.TrackWith(context.Background(), carrier.Query{OrderID: "ord-9"}, carrier.CanadaPost)

	require.NoError(t, err)
	assert.Equal(t, carrier.CanadaPost, m.Carrier)
	assert.Equal(t, 0, fc.LookupCalls())
	assert.Equal(t, 1, cp.LookupCalls())
}

func TestCoordinator_CacheHitSkipsFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := rediscache.New(rediscache.Open(mr.Addr()), "track:")
	fc := mock.New(carrier.Freightcom, mock.WithLookupResult("OUT_FOR_DELIVERY"))
	coord := tracking.NewCoordinator(newRegistry(fc), newMapper(), nil, nopLogger,
		tracking.WithCache(cache, time.Minute))

	first, err := coord.Track(context.Background(), carrier.Query{Waybill: "C1"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := coord.Track(context.Background(), carrier.Query{Waybill: " C1 "})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.State, second.State)
	assert.JSONEq(t, string(first.Data), string(second.Data))
	assert.Equal(t, 1, fc.LookupCalls())
}

func TestCoordinator_EventsAreAscending(t *testing.T) {
	now := time.Now().UTC()
	fc := mock.New(carrier.Freightcom, mock.WithLookupResult("DELIVERED",
		carrier.RawEvent{Timestamp: now, Code: "DELIVERED", Description: "Delivered"},
		carrier.RawEvent{Timestamp: now.Add(-time.Hour), Code: "OUT_FOR_DELIVERY", Description: "Out for delivery"},
	))
	coord := tracking.NewCoordinator(newRegistry(fc), newMapper(), nil, nopLogger)

	m, err := coord.Track(context.Background(), carrier.Query{Waybill: "E1"})

	require.NoError(t, err)
	require.Len(t, m.Events, 2)
	assert.Equal(t, carrier.StateOutForDelivery, m.Events[0].State)
	assert.Equal(t, carrier.StateDelivered, m.Events[1].State)
}

func TestReconciler_NonRegression(t *testing.T) {
	store := order.NewMemoryStore()
	seedOrder(t, store, "ord-2", "D1", carrier.Freightcom, carrier.StateDelivered)
	r := tracking.NewReconciler(store, newMapper(), nopLogger)

	outcome := r.Reconcile(context.Background(), &carrier.ProviderResult{Carrier: carrier.Freightcom, Waybill: "D1", RawStatus: "IN_TRANSIT"})

	assert.Equal(t, tracking.OutcomeTerminal, outcome)
	o, err := store.Get(context.Background(), "ord-2")
	require.NoError(t, err)
	assert.Equal(t, carrier.StateDelivered, o.State)
}

func TestReconciler_Idempotent(t *testing.T) {
	store := order.NewMemoryStore()
	seedOrder(t, store, "ord-3", "I1", carrier.CanadaPost, carrier.StateBooked)
	pub := &recordingPublisher{}
	r := tracking.NewReconciler(store, newMapper(), nopLogger, tracking.WithPublisher(pub))
	res := &carrier.ProviderResult{Carrier: carrier.CanadaPost, Waybill: "I1", RawStatus: "IN_TRANSIT"}

	assert.Equal(t, tracking.OutcomeUpdated, r.Reconcile(context.Background(), res))
	once, err := store.Get(context.Background(), "ord-3")
	require.NoError(t, err)

	assert.Equal(t, tracking.OutcomeUnchanged, r.Reconcile(context.Background(), res))
	twice, err := store.Get(context.Background(), "ord-3")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Len(t, pub.events, 1)
}

func TestReconciler_DeliveredStampsReconcileTime(t *testing.T) {
	store := order.NewMemoryStore()
	seedOrder(t, store, "ord-4", "P1", carrier.Purolator, carrier.StateOutForDelivery)
	fixed := time.Date(2024, 5, 7, 18, 0, 0, 0, time.UTC)
	r := tracking.NewReconciler(store, newMapper(), nopLogger, tracking.WithClock(func() time.Time { return fixed }))

	carrierTime := fixed.Add(-6 * time.Hour)
	outcome := r.Reconcile(context.Background(), &carrier.ProviderResult{
		Carrier:   carrier.Purolator,
		Waybill:   "P1",
		RawEvents: []carrier.RawEvent{{Timestamp: carrierTime, Code: "Delivered", Description: "Shipment delivered"}},
	})

	require.Equal(t, tracking.OutcomeUpdated, outcome)
	o, err := store.Get(context.Background(), "ord-4")
	require.NoError(t, err)
	assert.Equal(t, carrier.StateDelivered, o.State)
	assert.Equal(t, "Delivered", o.LastRawStatus)
	require.NotNil(t, o.DeliveredAt)
	assert.True(t, fixed.Equal(*o.DeliveredAt))
}

func TestReconciler_CompletesAfterCallerCancels(t *testing.T) {
	mem := order.NewMemoryStore()
	seedOrder(t, mem, "ord-5", "K1", carrier.CanadaPost, carrier.StateInTransit)
	r := tracking.NewReconciler(cancelAwareStore{mem}, newMapper(), nopLogger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := r.Reconcile(ctx, &carrier.ProviderResult{Carrier: carrier.CanadaPost, Waybill: "K1", RawStatus: "OFD"})

	assert.Equal(t, tracking.OutcomeUpdated, outcome)
	o, err := mem.Get(context.Background(), "ord-5")
	require.NoError(t, err)
	assert.Equal(t, carrier.StateOutForDelivery, o.State)
}

func TestReconciler_Skips(t *testing.T) {
	store := order.NewMemoryStore()
	seedOrder(t, store, "ord-6", "M1", carrier.Purolator, carrier.StateInTransit)
	r := tracking.NewReconciler(store, newMapper(), nopLogger)

	assert.Equal(t, tracking.OutcomeNoOrder,
		r.Reconcile(context.Background(), &carrier.ProviderResult{Carrier: carrier.Purolator, Waybill: "unknown", RawStatus: "Delivered"}))
	assert.Equal(t, tracking.OutcomeMismatch,
		r.Reconcile(context.Background(), &carrier.ProviderResult{Carrier: carrier.Freightcom, Waybill: "M1", RawStatus: "DELIVERED"}))

	o, err := store.Get(context.Background(), "ord-6")
	require.NoError(t, err)
	assert.Equal(t, carrier.StateInTransit, o.State)
}

func TestReconciler_ConcurrentPollsSingleWrite(t *testing.T) {
	store := order.NewMemoryStore()
	seedOrder(t, store, "ord-7", "R1", carrier.CanadaPost, carrier.StateBooked)
	pub := &recordingPublisher{}
	r := tracking.NewReconciler(store, newMapper(), nopLogger, tracking.WithPublisher(pub))
	res := &carrier.ProviderResult{Carrier: carrier.CanadaPost, Waybill: "R1", RawStatus: "OFD"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Reconcile(context.Background(), res)
		}()
	}
	wg.Wait()

	o, err := store.Get(context.Background(), "ord-7")
	require.NoError(t, err)
	assert.Equal(t, carrier.StateOutForDelivery, o.State)
	assert.Equal(t, int64(2), o.Version)
	assert.Len(t, pub.events, 1)
}

func TestMapper_GapReported(t *testing.T) {
	var gaps []string
	m := status.NewMapper(func(id carrier.Identity, raw, _ string) { gaps = append(gaps, string(id)+":"+raw) })
	m.Register(carrier.CanadaPost, canadapost.StatusTable())
	coord := tracking.NewCoordinator(newRegistry(mock.New(carrier.CanadaPost, mock.WithLookupResult("ZZZ"))), m, nil, nopLogger)

	match, err := coord.Track(context.Background(), carrier.Query{Waybill: "G1"})

	require.NoError(t, err)
	assert.Equal(t, status.DefaultState, match.State)
	assert.Equal(t, []string{"canadapost:ZZZ"}, gaps)
}
