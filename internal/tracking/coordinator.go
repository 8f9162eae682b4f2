// Package tracking resolves a tracking query against every configured
// carrier and keeps the matching order's canonical state in sync.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/telemetry"
	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

// Cache stores encoded matches by normalised query key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// StateSyncer receives every winning result.
type StateSyncer interface {
	Reconcile(ctx context.Context, res *carrier.ProviderResult) Outcome
}

// Match is the winning carrier answer for a query. Data is the carrier's own
// payload, passed through untouched.
type Match struct {
	Carrier   carrier.Identity         `json:"carrier"`
	Waybill   string                   `json:"waybill"`
	State     carrier.OrderState       `json:"state"`
	RawStatus string                   `json:"rawStatus"`
	Events    []carrier.CanonicalEvent `json:"events"`
	Data      json.RawMessage          `json:"data,omitempty"`
	Cached    bool                     `json:"-"`
}

// Coordinator fans a query out to the carrier registry and picks the winner
// by priority once every carrier has settled.
type Coordinator struct {
	registry *carrier.Registry
	mapper   *status.Mapper
	syncer   StateSyncer
	cache    Cache
	cacheTTL time.Duration
	metrics  *telemetry.Metrics
	logger   *otelzap.Logger
	tracer   trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCache caches successful public lookups for ttl.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithMetrics records fan-out and cache metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracer sets the tracer used for fan-out spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewCoordinator creates a coordinator. syncer may be nil, in which case
// matches are returned without touching any order.
func NewCoordinator(registry *carrier.Registry, mapper *status.Mapper, syncer StateSyncer, logger *otelzap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		mapper:   mapper,
		syncer:   syncer,
		logger:   logger,
		tracer:   noop.NewTracerProvider().Tracer("tracking"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Track resolves q against every registered carrier. Successful matches are
// served from and written to the cache when one is configured. A match is
// reconciled into its order when it is fetched, so a cache hit is returned
// without reconciling again; the cache TTL bounds how stale the order can be.
func (c *Coordinator) Track(ctx context.Context, q carrier.Query) (*Match, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	if m := c.cached(ctx, q); m != nil {
		return m, nil
	}

	m, err := c.track(ctx, q, nil)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if b, err := json.Marshal(m); err == nil {
			if err := c.cache.Set(ctx, q.Key(), b, c.cacheTTL); err != nil {
				c.logger.Ctx(ctx).Warn("Failed to cache tracking match", zap.Error(err))
			}
		}
	}
	return m, nil
}

// TrackWith resolves q against the given carriers only, bypassing the cache.
func (c *Coordinator) TrackWith(ctx context.Context, q carrier.Query, carriers ...carrier.Identity) (*Match, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	if len(carriers) == 0 {
		return nil, fmt.Errorf("no carriers selected: %w", carrier.ErrCarrierNotRegistered)
	}
	return c.track(ctx, q, carriers)
}

func (c *Coordinator) track(ctx context.Context, q carrier.Query, only []carrier.Identity) (*Match, error) {
	ctx, span := c.tracer.Start(ctx, "tracking.Track",
		trace.WithAttributes(attribute.String("query.kind", string(q.Kind()))))
	defer span.End()

	start := time.Now()
	outcomes := c.registry.LookupAll(ctx, q, only...)
	c.metrics.ObserveFanOut(carrier.OpLookup, time.Since(start))

	attempted := make([]carrier.Identity, len(outcomes))
	var winner *carrier.ProviderResult
	for i, o := range outcomes {
		attempted[i] = o.Carrier
		if o.Err != nil {
			c.logFailure(ctx, o)
			continue
		}
		if winner == nil {
			winner = o.Result
		}
	}

	if winner == nil {
		span.SetStatus(codes.Error, "not found")
		return nil, &carrier.NotFoundError{Query: q, Attempted: attempted}
	}
	span.SetAttributes(attribute.String("carrier", string(winner.Carrier)))

	if winner.Waybill == "" && q.Kind() == carrier.QueryWaybill {
		winner.Waybill = q.Waybill
	}
	if c.syncer != nil && winner.Waybill != "" {
		c.syncer.Reconcile(ctx, winner)
	}

	state, _ := c.mapper.MapResult(winner)
	raw, _ := winner.StatusInputs()
	return &Match{
		Carrier:   winner.Carrier,
		Waybill:   winner.Waybill,
		State:     state,
		RawStatus: raw,
		Events:    c.mapper.Events(winner),
		Data:      winner.Payload,
	}, nil
}

func (c *Coordinator) cached(ctx context.Context, q carrier.Query) *Match {
	if c.cache == nil {
		return nil
	}
	b, ok, err := c.cache.Get(ctx, q.Key())
	if err != nil {
		c.logger.Ctx(ctx).Warn("Tracking cache unavailable", zap.Error(err))
		return nil
	}
	c.metrics.RecordCacheLookup(ok)
	if !ok {
		return nil
	}
	var m Match
	if err := json.Unmarshal(b, &m); err != nil {
		c.logger.Ctx(ctx).Warn("Discarding unreadable cache entry", zap.Error(err))
		return nil
	}
	m.Cached = true
	return &m
}

func (c *Coordinator) logFailure(ctx context.Context, o carrier.LookupOutcome) {
	log := c.logger.Ctx(ctx)
	fields := []zap.Field{
		zap.String("carrier", string(o.Carrier)),
		zap.Duration("duration", o.Duration),
		zap.Error(o.Err),
	}
	switch {
	case errors.Is(o.Err, carrier.ErrUnsupportedQuery), errors.Is(o.Err, carrier.ErrEmptyResult),
		errors.Is(o.Err, carrier.ErrCarrierRejected):
		log.Debug("Carrier did not match query", fields...)
	default:
		log.Warn("Carrier lookup failed", fields...)
	}
}
