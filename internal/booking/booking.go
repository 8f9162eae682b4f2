// Package booking shops rates across carriers for an order and books the
// chosen service, assigning the waybill to the order exactly once.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/events"
	"github.com/tournevent/carrierhub/internal/order"
	"github.com/tournevent/carrierhub/internal/telemetry"
	"github.com/tournevent/carrierhub/pkg/carrier"
)

var (
	// ErrBookingInProgress indicates another request holds the booking lock for the order.
	ErrBookingInProgress = errors.New("booking already in progress for order")

	// ErrInvalidOption indicates the selected service option cannot be booked.
	ErrInvalidOption = errors.New("invalid service option")
)

const (
	defaultAssignRetries  = 3
	defaultAssignBackoff  = 20 * time.Millisecond
	defaultReservationTTL = time.Minute
)

// Locker serialises booking attempts per order.
type Locker interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Unavailable describes a carrier that could not quote.
type Unavailable struct {
	Carrier   carrier.Identity `json:"carrier"`
	Reason    string           `json:"reason"`
	Retryable bool             `json:"retryable"`
}

// Quotes is the union of every successful carrier quote, in carrier
// priority order, plus the carriers that failed.
type Quotes struct {
	Options     []carrier.ServiceOption `json:"options"`
	Unavailable []Unavailable           `json:"unavailable"`
}

// Confirmation is a completed booking and the order it was written to.
type Confirmation struct {
	Booking *carrier.BookingResult `json:"booking"`
	Order   *order.Order           `json:"order"`
}

// Orchestrator runs rate shopping and booking.
type Orchestrator struct {
	registry      *carrier.Registry
	store         order.Store
	locker        Locker
	publisher     events.Publisher
	metrics       *telemetry.Metrics
	logger        *otelzap.Logger
	tracer        trace.Tracer
	assignRetries  uint64
	assignBackoff  time.Duration
	reservationTTL time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocker rejects concurrent bookings of the same order before the
// store is consulted.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithPublisher emits OrderBooked after every successful booking.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithAssignRetry sets how often a lost compare-and-swap on the order is
// retried with a fresh version.
func WithAssignRetry(retries uint64, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		o.assignRetries = retries
		o.assignBackoff = backoff
	}
}

// WithReservationTTL bounds how long a booking attempt holds the order.
// The reservation always outlives twice the carrier's call timeout.
func WithReservationTTL(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.reservationTTL = d
		}
	}
}

// New creates a booking orchestrator.
func New(registry *carrier.Registry, store order.Store, logger *otelzap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:      registry,
		store:         store,
		publisher:     events.Nop{},
		logger:        logger,
		assignRetries:  defaultAssignRetries,
		assignBackoff:  defaultAssignBackoff,
		reservationTTL: defaultReservationTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer("carrierhub/booking")
	}
	return o
}

// Quote collects service options for a shipment from every eligible
// carrier. Carrier failures are reported in Unavailable and never fail the
// call.
func (o *Orchestrator) Quote(ctx context.Context, s *carrier.Shipment) *Quotes {
	ctx, span := o.tracer.Start(ctx, "booking.Quote")
	defer span.End()

	start := time.Now()
	outcomes := o.registry.QuoteAll(ctx, s)
	o.metrics.ObserveFanOut(carrier.OpQuote, time.Since(start))

	q := &Quotes{Options: []carrier.ServiceOption{}, Unavailable: []Unavailable{}}
	for _, out := range outcomes {
		if out.Err != nil {
			o.logger.Ctx(ctx).Warn("Carrier quote failed",
				zap.String("carrier", string(out.Carrier)),
				zap.Duration("duration", out.Duration),
				zap.Error(out.Err),
			)
			q.Unavailable = append(q.Unavailable, Unavailable{
				Carrier:   out.Carrier,
				Reason:    out.Err.Error(),
				Retryable: carrier.IsRetryable(out.Err),
			})
			continue
		}
		q.Options = append(q.Options, out.Options...)
	}
	span.SetAttributes(attribute.Int("options", len(q.Options)))
	return q
}

// QuoteOrder quotes the shipment of a stored order.
func (o *Orchestrator) QuoteOrder(ctx context.Context, orderID string) (*Quotes, error) {
	ord, err := o.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return o.Quote(ctx, &ord.Shipment), nil
}

// Book books opt for the order. An order that already has a waybill yields
// ErrAlreadyBooked without contacting any carrier. The carrier is only
// called under a store reservation, so concurrent attempts on one order
// produce at most one shipment; the losers get ErrBookingInProgress or
// ErrAlreadyBooked. Carrier failures are returned as classified by the
// registry and leave the order untouched.
func (o *Orchestrator) Book(ctx context.Context, orderID string, opt carrier.ServiceOption) (conf *Confirmation, err error) {
	ctx, span := o.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("carrier", string(opt.Carrier)),
		attribute.String("service_id", opt.ServiceID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		o.metrics.RecordBooking(opt.Carrier, telemetry.Outcome(err))
		span.End()
	}()

	if opt.Carrier == "" || opt.ServiceID == "" {
		return nil, fmt.Errorf("%w: carrier and service id are required", ErrInvalidOption)
	}

	ord, err := o.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.IsBooked() {
		return nil, fmt.Errorf("order %s has waybill %s: %w", ord.ID, ord.Waybill, order.ErrAlreadyBooked)
	}

	if o.locker != nil {
		key := "booking:" + orderID
		token, ok, err := o.locker.Acquire(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("acquiring booking lock: %w", err)
		}
		if !ok {
			return nil, ErrBookingInProgress
		}
		defer func() {
			if err := o.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				o.logger.Ctx(ctx).Warn("Failed to release booking lock", zap.String("order_id", orderID), zap.Error(err))
			}
		}()
	}

	ord, release, err := o.reserve(ctx, orderID, opt.Carrier)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := o.registry.Book(ctx, &ord.Shipment, opt)
	if err != nil {
		o.logger.Ctx(ctx).Warn("Carrier booking failed",
			zap.String("order_id", orderID),
			zap.String("carrier", string(opt.Carrier)),
			zap.Bool("retryable", carrier.IsRetryable(err)),
			zap.Error(err),
		)
		return nil, err
	}

	booked, err := o.assign(ctx, ord, order.Booking{Carrier: res.Carrier, Waybill: res.Waybill})
	if err != nil {
		// The carrier has a live shipment the order does not point at.
		o.logger.Ctx(ctx).Error("Booked with carrier but failed to record waybill",
			zap.String("order_id", orderID),
			zap.String("carrier", string(res.Carrier)),
			zap.String("waybill", res.Waybill),
			zap.Error(err),
		)
		return nil, err
	}

	o.logger.Ctx(ctx).Info("Order booked",
		zap.String("order_id", booked.ID),
		zap.String("carrier", string(res.Carrier)),
		zap.String("waybill", res.Waybill),
		zap.String("charged", res.Charged.String()),
	)

	if err := o.publisher.Publish(ctx, events.OrderBooked{
		ID:         events.NewID(),
		OrderID:    booked.ID,
		MerchantID: booked.MerchantID,
		Carrier:    res.Carrier,
		Waybill:    res.Waybill,
		ServiceID:  res.ServiceID,
		Charged:    res.Charged.String(),
		Currency:   res.Currency,
		OccurredAt: booked.UpdatedAt,
	}); err != nil {
		o.logger.Ctx(ctx).Warn("Failed to publish booking", zap.String("order_id", booked.ID), zap.Error(err))
	}

	return &Confirmation{Booking: res, Order: booked}, nil
}

// reserve claims the order in the store for this attempt and returns it as
// stored, with a func that drops the claim. A successful assign has
// already cleared it by then.
func (o *Orchestrator) reserve(ctx context.Context, orderID string, id carrier.Identity) (*order.Order, func(), error) {
	token := uuid.NewString()
	ttl := max(o.reservationTTL, 2*o.registry.TimeoutFor(id))

	ord, err := o.store.ReserveBooking(ctx, orderID, token, time.Now().Add(ttl))
	switch {
	case errors.Is(err, order.ErrReserved):
		return nil, nil, ErrBookingInProgress
	case errors.Is(err, order.ErrAlreadyBooked):
		return nil, nil, fmt.Errorf("order %s: %w", orderID, order.ErrAlreadyBooked)
	case err != nil:
		return nil, nil, fmt.Errorf("reserving order: %w", err)
	}

	release := func() {
		if err := o.store.ReleaseBooking(context.WithoutCancel(ctx), orderID, token); err != nil {
			o.logger.Ctx(ctx).Warn("Failed to release booking reservation", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return ord, release, nil
}

// assign writes the booking with compare-and-swap, re-reading the order
// after each lost race. A concurrent state write does not block the
// booking, a concurrent booking does.
func (o *Orchestrator) assign(ctx context.Context, ord *order.Order, b order.Booking) (*order.Order, error) {
	ctx = context.WithoutCancel(ctx)
	version := ord.Version
	var booked *order.Order

	backoff := retry.WithMaxRetries(o.assignRetries, retry.NewConstant(o.assignBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		updated, err := o.store.AssignBooking(ctx, ord.ID, version, b)
		if err == nil {
			booked = updated
			return nil
		}
		if !errors.Is(err, order.ErrConflict) {
			return err
		}
		fresh, gerr := o.store.Get(ctx, ord.ID)
		if gerr != nil {
			return gerr
		}
		if fresh.IsBooked() {
			return order.ErrAlreadyBooked
		}
		version = fresh.Version
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return booked, nil
}
