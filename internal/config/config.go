package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"80"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	JWTSecret   string `envconfig:"JWT_SECRET"`

	// Carrier fan-out
	CarrierPriority  string        `envconfig:"CARRIER_PRIORITY" default:"freightcom,canadapost,purolator"`
	DefaultCarrier   string        `envconfig:"DEFAULT_CARRIER" default:"freightcom"`
	CarrierTimeout   time.Duration `envconfig:"CARRIER_TIMEOUT" default:"8s"`
	StatusOverrides  string        `envconfig:"STATUS_OVERRIDES_FILE"`
	ReconcileTimeout time.Duration `envconfig:"RECONCILE_TIMEOUT" default:"5s"`

	// Freightcom
	FreightcomAPIKey          string        `envconfig:"FREIGHTCOM_API_KEY"`
	FreightcomBaseURL         string        `envconfig:"FREIGHTCOM_BASE_URL" default:"https://api.freightcom.com/v1"`
	FreightcomPaymentMethodID int           `envconfig:"FREIGHTCOM_PAYMENT_METHOD_ID"`
	FreightcomEnabled         bool          `envconfig:"FREIGHTCOM_ENABLED" default:"true"`
	FreightcomUseMock         bool          `envconfig:"FREIGHTCOM_USE_MOCK" default:"false"`
	FreightcomTimeout         time.Duration `envconfig:"FREIGHTCOM_TIMEOUT"`
	FreightcomMaxWeightKG     float64       `envconfig:"FREIGHTCOM_MAX_WEIGHT_KG"`

	// Canada Post
	CanadaPostAPIKey         string        `envconfig:"CANADAPOST_API_KEY"`
	CanadaPostAPISecret      string        `envconfig:"CANADAPOST_API_SECRET"`
	CanadaPostAccountID      string        `envconfig:"CANADAPOST_ACCOUNT_ID"`
	CanadaPostCustomerNumber string        `envconfig:"CANADAPOST_CUSTOMER_NUMBER"`
	CanadaPostBaseURL        string        `envconfig:"CANADAPOST_BASE_URL" default:"https://soa-gw.canadapost.ca"`
	CanadaPostEnabled        bool          `envconfig:"CANADAPOST_ENABLED" default:"true"`
	CanadaPostUseMock        bool          `envconfig:"CANADAPOST_USE_MOCK" default:"false"`
	CanadaPostTimeout        time.Duration `envconfig:"CANADAPOST_TIMEOUT"`
	CanadaPostMaxWeightKG    float64       `envconfig:"CANADAPOST_MAX_WEIGHT_KG" default:"30"`

	// Purolator
	PurolatorUsername      string        `envconfig:"PUROLATOR_USERNAME"`
	PurolatorPassword      string        `envconfig:"PUROLATOR_PASSWORD"`
	PurolatorAccountNumber string        `envconfig:"PUROLATOR_ACCOUNT_NUMBER"`
	PurolatorWSDLURL       string        `envconfig:"PUROLATOR_WSDL_URL" default:"https://webservices.purolator.com/EWS/V2"`
	PurolatorEnabled       bool          `envconfig:"PUROLATOR_ENABLED" default:"true"`
	PurolatorUseMock       bool          `envconfig:"PUROLATOR_USE_MOCK" default:"false"`
	PurolatorTimeout       time.Duration `envconfig:"PUROLATOR_TIMEOUT"`
	PurolatorMaxWeightKG   float64       `envconfig:"PUROLATOR_MAX_WEIGHT_KG"`

	// Storage
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	TrackingCacheTTL time.Duration `envconfig:"TRACKING_CACHE_TTL" default:"2m"`
	PublicRateLimit  int64         `envconfig:"PUBLIC_RATE_LIMIT" default:"60"`
	PublicRateWindow time.Duration `envconfig:"PUBLIC_RATE_WINDOW" default:"1m"`
	BookingLockTTL   time.Duration `envconfig:"BOOKING_LOCK_TTL" default:"30s"`

	// Events
	EventsBackend string   `envconfig:"EVENTS_BACKEND" default:"none"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string   `envconfig:"KAFKA_TOPIC" default:"carrierhub.orders"`
	AMQPURL       string   `envconfig:"AMQP_URL"`
	AMQPExchange  string   `envconfig:"AMQP_EXCHANGE" default:"carrierhub.orders"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"true"`
	OTELEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"http://jaeger-collector.claude.svc.cluster.local:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"carrierhub"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if _, err := cfg.Priority(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if _, err := carrier.ParseIdentity(cfg.DefaultCarrier); err != nil {
		return nil, fmt.Errorf("loading config: DEFAULT_CARRIER: %w", err)
	}
	switch cfg.EventsBackend {
	case "none", "kafka", "amqp":
	default:
		return nil, fmt.Errorf("loading config: unknown EVENTS_BACKEND %q", cfg.EventsBackend)
	}
	return &cfg, nil
}

// Priority parses CARRIER_PRIORITY. Unknown carrier names are an error.
func (c *Config) Priority() ([]carrier.Identity, error) {
	ids, err := carrier.ParsePriority(c.CarrierPriority)
	if err != nil {
		return nil, fmt.Errorf("CARRIER_PRIORITY: %w", err)
	}
	return ids, nil
}

// CarrierTimeouts returns the per-carrier call timeout overrides that are set.
func (c *Config) CarrierTimeouts() map[carrier.Identity]time.Duration {
	out := make(map[carrier.Identity]time.Duration)
	for id, d := range map[carrier.Identity]time.Duration{
		carrier.Freightcom: c.FreightcomTimeout,
		carrier.CanadaPost: c.CanadaPostTimeout,
		carrier.Purolator:  c.PurolatorTimeout,
	} {
		if d > 0 {
			out[id] = d
		}
	}
	return out
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("deployment.environment", c.Environment),
		attribute.String("carrier.priority", c.CarrierPriority),
		attribute.Bool("freightcom.enabled", c.FreightcomEnabled),
		attribute.Bool("canadapost.enabled", c.CanadaPostEnabled),
		attribute.Bool("purolator.enabled", c.PurolatorEnabled),
		attribute.String("events.backend", c.EventsBackend),
	}
}
