package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/carrierhub/internal/config"
	"github.com/tournevent/carrierhub/pkg/carrier"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 80, cfg.Port)
	assert.Equal(t, 8*time.Second, cfg.CarrierTimeout)
	assert.Equal(t, "none", cfg.EventsBackend)

	ids, err := cfg.Priority()
	require.NoError(t, err)
	assert.Equal(t, []carrier.Identity{carrier.Freightcom, carrier.CanadaPost, carrier.Purolator}, ids)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CARRIER_PRIORITY", "purolator, canadapost")
	t.Setenv("PUROLATOR_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "kafka-0:9092,kafka-1:9092")
	t.Setenv("EVENTS_BACKEND", "kafka")

	cfg, err := config.Load()
	require.NoError(t, err)

	ids, err := cfg.Priority()
	require.NoError(t, err)
	assert.Equal(t, []carrier.Identity{carrier.Purolator, carrier.CanadaPost}, ids)
	assert.Equal(t, map[carrier.Identity]time.Duration{carrier.Purolator: 2 * time.Second}, cfg.CarrierTimeouts())
	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("unknown carrier", func(t *testing.T) {
		t.Setenv("CARRIER_PRIORITY", "freightcom,dhl")
		_, err := config.Load()
		assert.ErrorIs(t, err, carrier.ErrCarrierNotRegistered)
	})
	t.Run("unknown events backend", func(t *testing.T) {
		t.Setenv("EVENTS_BACKEND", "nats")
		_, err := config.Load()
		assert.Error(t, err)
	})
}
