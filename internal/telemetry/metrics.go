package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	CarrierCalls    *prometheus.CounterVec
	CarrierDuration *prometheus.HistogramVec
	CarrierErrors   *prometheus.CounterVec
	FanOutDuration  *prometheus.HistogramVec
	MappingGaps     *prometheus.CounterVec
	Reconciliations *prometheus.CounterVec
	Bookings        *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
}

// NewMetrics creates Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CarrierCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierhub_carrier_calls_total",
				Help: "Total carrier calls by operation, carrier, and outcome",
			},
			[]string{"operation", "carrier", "outcome"},
		),
		CarrierDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carrierhub_carrier_call_duration_seconds",
				Help:    "Carrier call duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierhub_carrier_errors_total",
				Help: "Total carrier errors by carrier and error code",
			},
			[]string{"carrier", "code"},
		),
		FanOutDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carrierhub_fanout_duration_seconds",
				Help:    "Time for all carriers to settle by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		MappingGaps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierhub_status_mapping_gaps_total",
				Help: "Raw statuses that fell through to the default state, by carrier",
			},
			[]string{"carrier"},
		),
		Reconciliations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierhub_reconciliations_total",
				Help: "Order reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		Bookings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierhub_bookings_total",
				Help: "Booking attempts by carrier and outcome",
			},
			[]string{"carrier", "outcome"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carrierhub_tracking_cache_lookups_total",
				Help: "Tracking cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveCarrierCall records one settled carrier call. Its signature matches
// carrier.CallObserver.
func (m *Metrics) ObserveCarrierCall(op string, id carrier.Identity, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := Outcome(err)
	m.CarrierCalls.WithLabelValues(op, string(id), outcome).Inc()
	m.CarrierDuration.WithLabelValues(op, string(id)).Observe(elapsed.Seconds())
	if err != nil {
		m.CarrierErrors.WithLabelValues(string(id), errorCode(err)).Inc()
	}
}

// ObserveFanOut records how long a fan-out took to settle.
func (m *Metrics) ObserveFanOut(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FanOutDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordMappingGap counts a raw status that no table entry matched.
func (m *Metrics) RecordMappingGap(id carrier.Identity) {
	if m == nil {
		return
	}
	m.MappingGaps.WithLabelValues(string(id)).Inc()
}

// RecordReconciliation counts a reconciliation outcome.
func (m *Metrics) RecordReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

// RecordBooking counts a booking attempt.
func (m *Metrics) RecordBooking(id carrier.Identity, outcome string) {
	if m == nil {
		return
	}
	m.Bookings.WithLabelValues(string(id), outcome).Inc()
}

// RecordCacheLookup counts a tracking cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Outcome buckets an error into a low-cardinality label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, carrier.ErrUnsupportedQuery):
		return "unsupported"
	case errors.Is(err, carrier.ErrEmptyResult):
		return "empty"
	case errors.Is(err, carrier.ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, carrier.ErrTransient):
		return "transient"
	case errors.Is(err, carrier.ErrCarrierRejected):
		return "rejected"
	default:
		return "error"
	}
}

func errorCode(err error) string {
	var ce *carrier.CarrierError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Outcome(err)
}
