package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/events"
	"github.com/tournevent/carrierhub/internal/order"
	"github.com/tournevent/carrierhub/internal/telemetry"
	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

// Outcome describes what a reconciliation did.
type Outcome string

const (
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeNoOrder   Outcome = "no_order"
	OutcomeMismatch  Outcome = "carrier_mismatch"
	OutcomeTerminal  Outcome = "terminal"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
)

// DefaultReconcileTimeout bounds a single reconciliation.
const DefaultReconcileTimeout = 5 * time.Second

// Reconciler writes the canonical state of a tracking result into the order
// that carries its waybill. It never returns an error: tracking callers must
// not fail because local sync did.
type Reconciler struct {
	store     order.Store
	mapper    *status.Mapper
	publisher events.Publisher
	timeout   time.Duration
	now       func() time.Time
	metrics   *telemetry.Metrics
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPublisher emits OrderStateChanged after every write.
func WithPublisher(p events.Publisher) ReconcilerOption {
	return func(r *Reconciler) { r.publisher = p }
}

// WithReconcileTimeout overrides DefaultReconcileTimeout.
func WithReconcileTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock sets the time source for deliveredAt.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithReconcilerMetrics records reconciliation outcomes.
func WithReconcilerMetrics(m *telemetry.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithReconcilerTracer sets the tracer for reconciliation spans.
func WithReconcilerTracer(t trace.Tracer) ReconcilerOption {
	return func(r *Reconciler) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store order.Store, mapper *status.Mapper, logger *otelzap.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:     store,
		mapper:    mapper,
		publisher: events.Nop{},
		timeout:   DefaultReconcileTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
		tracer:    noop.NewTracerProvider().Tracer("tracking"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile applies res to the order with the same waybill. It detaches from
// the caller's cancellation so a disconnecting client cannot abort a write
// that is already under way.
func (r *Reconciler) Reconcile(ctx context.Context, res *carrier.ProviderResult) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "tracking.Reconcile",
		trace.WithAttributes(attribute.String("carrier", string(res.Carrier))))
	defer span.End()

	outcome := r.reconcile(ctx, res)
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	r.metrics.RecordReconciliation(string(outcome))
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, res *carrier.ProviderResult) Outcome {
	log := r.logger.WithOptions(zap.Fields(
		zap.String("carrier", string(res.Carrier)),
		zap.String("waybill", res.Waybill),
	)).Ctx(ctx)

	candidate, _ := r.mapper.MapResult(res)
	raw, _ := res.StatusInputs()

	o, err := r.store.FindByWaybill(ctx, res.Waybill)
	if errors.Is(err, order.ErrNotFound) {
		return OutcomeNoOrder
	}
	if err != nil {
		log.Error("Failed to load order for reconciliation", zap.Error(err))
		return OutcomeFailed
	}

	if o.Carrier != "" && o.Carrier != res.Carrier {
		log.Debug("Waybill belongs to another carrier", zap.String("order_carrier", string(o.Carrier)))
		return OutcomeMismatch
	}
	if o.State.IsTerminal() {
		if candidate != o.State {
			log.Debug("Order is terminal, ignoring update",
				zap.String("state", string(o.State)),
				zap.String("candidate", string(candidate)),
			)
		}
		return OutcomeTerminal
	}
	if o.State == candidate && o.LastRawStatus == raw {
		return OutcomeUnchanged
	}

	update := order.StateUpdate{State: candidate, RawStatus: raw}
	if candidate == carrier.StateDelivered {
		now := r.now()
		update.DeliveredAt = &now
	}

	updated, err := r.store.UpdateState(ctx, o.ID, o.Version, update)
	if errors.Is(err, order.ErrConflict) {
		log.Debug("Lost reconciliation race, dropping result", zap.String("order_id", o.ID))
		return OutcomeConflict
	}
	if err != nil {
		log.Error("Failed to write order state", zap.String("order_id", o.ID), zap.Error(err))
		return OutcomeFailed
	}

	log.Info("Order state reconciled",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.State)),
		zap.String("to", string(updated.State)),
		zap.String("raw_status", raw),
	)

	if err := r.publisher.Publish(ctx, events.OrderStateChanged{
		ID:         events.NewID(),
		OrderID:    updated.ID,
		MerchantID: updated.MerchantID,
		Carrier:    res.Carrier,
		Waybill:    res.Waybill,
		From:       o.State,
		To:         updated.State,
		RawStatus:  raw,
		OccurredAt: updated.UpdatedAt,
	}); err != nil {
		log.Warn("Failed to publish state change", zap.Error(err))
	}
	return OutcomeUpdated
}

var _ StateSyncer = (*Reconciler)(nil)
