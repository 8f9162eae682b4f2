package carrier_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

func TestCarrierError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       *carrier.CarrierError
		transient bool
	}{
		{"server error", carrier.NewCarrierError(carrier.Freightcom, carrier.CodeUnavailable, "down").WithStatusCode(http.StatusBadGateway), true},
		{"rate limited", carrier.NewCarrierError(carrier.Freightcom, carrier.CodeRateLimited, "slow down").WithStatusCode(http.StatusTooManyRequests), true},
		{"bad address", carrier.NewCarrierError(carrier.Freightcom, carrier.CodeInvalidAddress, "postal code").WithStatusCode(http.StatusBadRequest), false},
		{"explicit", carrier.NewCarrierError(carrier.Freightcom, carrier.CodeNotServiceable, "no route"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("booking: %w", tt.err)
			assert.Equal(t, tt.transient, errors.Is(wrapped, carrier.ErrTransient))
			assert.Equal(t, !tt.transient, errors.Is(wrapped, carrier.ErrCarrierRejected))
			assert.Equal(t, tt.transient, carrier.IsRetryable(wrapped))
		})
	}
}

func TestCarrierError_IsByCode(t *testing.T) {
	err := carrier.NewCarrierError(carrier.CanadaPost, carrier.CodeInvalidAddress, "bad postal code")
	target := carrier.NewCarrierError(carrier.Purolator, carrier.CodeInvalidAddress, "")

	assert.True(t, errors.Is(err, target))
	assert.False(t, errors.Is(err, carrier.NewCarrierError(carrier.CanadaPost, carrier.CodeTimeout, "")))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, carrier.Classify(carrier.Purolator, nil))

	timeout := carrier.Classify(carrier.Purolator, context.DeadlineExceeded)
	assert.True(t, errors.Is(timeout, carrier.ErrTransient))
	assert.True(t, errors.Is(timeout, context.DeadlineExceeded))

	unknown := carrier.Classify(carrier.Purolator, errors.New("weird"))
	assert.True(t, errors.Is(unknown, carrier.ErrTransient))

	rejected := carrier.NewCarrierError(carrier.Purolator, carrier.CodeInvalidAddress, "bad")
	assert.Same(t, rejected, carrier.Classify(carrier.Purolator, rejected))

	unsupported := fmt.Errorf("purolator: %w", carrier.ErrUnsupportedQuery)
	assert.Equal(t, unsupported, carrier.Classify(carrier.Purolator, unsupported))
}

func TestNotFoundError(t *testing.T) {
	err := &carrier.NotFoundError{
		Query:     carrier.Query{Waybill: "AWB123"},
		Attempted: []carrier.Identity{carrier.Freightcom, carrier.CanadaPost},
	}

	assert.True(t, errors.Is(err, carrier.ErrNotFound))
	assert.Contains(t, err.Error(), "AWB123")
	assert.Contains(t, err.Error(), "freightcom, canadapost")
}
