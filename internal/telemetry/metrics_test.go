package telemetry_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/tournevent/carrierhub/internal/telemetry"
	"github.com/tournevent/carrierhub/pkg/carrier"
)

func TestMetrics_ObserveCarrierCall(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())

	m.ObserveCarrierCall(carrier.OpLookup, carrier.Freightcom, 20*time.Millisecond, nil)
	m.ObserveCarrierCall(carrier.OpLookup, carrier.Purolator, time.Second, carrier.Classify(carrier.Purolator, context.DeadlineExceeded))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CarrierCalls.WithLabelValues("lookup", "freightcom", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CarrierCalls.WithLabelValues("lookup", "purolator", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CarrierErrors.WithLabelValues("purolator", carrier.CodeTimeout)))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *telemetry.Metrics
	assert.NotPanics(t, func() {
		m.ObserveCarrierCall(carrier.OpQuote, carrier.CanadaPost, time.Millisecond, nil)
		m.ObserveFanOut(carrier.OpQuote, time.Millisecond)
		m.RecordMappingGap(carrier.CanadaPost)
		m.RecordReconciliation("updated")
		m.RecordBooking(carrier.CanadaPost, "success")
		m.RecordCacheLookup(true)
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.NewMetrics(prometheus.NewRegistry())
		telemetry.NewMetrics(prometheus.NewRegistry())
	})
}

func TestOutcome(t *testing.T) {
	rejected := carrier.NewCarrierError(carrier.Freightcom, carrier.CodeInvalidAddress, "bad").WithStatusCode(http.StatusBadRequest)
	assert.Equal(t, "success", telemetry.Outcome(nil))
	assert.Equal(t, "rejected", telemetry.Outcome(rejected))
	assert.Equal(t, "unsupported", telemetry.Outcome(carrier.ErrUnsupportedQuery))
	assert.Equal(t, "empty", telemetry.Outcome(carrier.ErrEmptyResult))
	assert.Equal(t, "already_booked", telemetry.Outcome(carrier.ErrAlreadyBooked))
	assert.Equal(t, "error", telemetry.Outcome(errors.New("boom")))
}
