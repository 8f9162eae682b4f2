package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/booking"
	"github.com/tournevent/carrierhub/internal/cache/rediscache"
	"github.com/tournevent/carrierhub/internal/config"
	"github.com/tournevent/carrierhub/internal/events"
	"github.com/tournevent/carrierhub/internal/order"
	"github.com/tournevent/carrierhub/internal/order/pgstore"
	"github.com/tournevent/carrierhub/internal/server"
	"github.com/tournevent/carrierhub/internal/telemetry"
	"github.com/tournevent/carrierhub/internal/tracking"
	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/canadapost"
	"github.com/tournevent/carrierhub/pkg/carrier/freightcom"
	"github.com/tournevent/carrierhub/pkg/carrier/purolator"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

// app is the wired service. close releases everything in reverse order.
type app struct {
	cfg       *config.Config
	registry  *carrier.Registry
	orders    order.Store
	tracker   *tracking.Coordinator
	booking   *booking.Orchestrator
	limiter   server.RateLimiter
	publisher events.Publisher
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return noop.NewTracerProvider().Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initCarrierRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) (*carrier.Registry, error) {
	registry := carrier.NewRegistry(
		carrier.WithDefaultTimeout(cfg.CarrierTimeout),
		carrier.WithObserver(metrics.ObserveCarrierCall),
	)

	// Register enabled carriers
	if cfg.FreightcomEnabled {
		registry.Register(freightcom.New(freightcom.Config{
			APIKey:          cfg.FreightcomAPIKey,
			BaseURL:         cfg.FreightcomBaseURL,
			PaymentMethodID: cfg.FreightcomPaymentMethodID,
			UseMock:         cfg.FreightcomUseMock,
			MaxWeightKG:     cfg.FreightcomMaxWeightKG,
		}, logger, tracer))
	}

	if cfg.CanadaPostEnabled {
		registry.Register(canadapost.New(canadapost.Config{
			APIKey:         cfg.CanadaPostAPIKey,
			APISecret:      cfg.CanadaPostAPISecret,
			AccountID:      cfg.CanadaPostAccountID,
			CustomerNumber: cfg.CanadaPostCustomerNumber,
			BaseURL:        cfg.CanadaPostBaseURL,
			UseMock:        cfg.CanadaPostUseMock,
			MaxWeightKG:    cfg.CanadaPostMaxWeightKG,
		}, logger, tracer))
	}

	if cfg.PurolatorEnabled {
		registry.Register(purolator.New(purolator.Config{
			Username:      cfg.PurolatorUsername,
			Password:      cfg.PurolatorPassword,
			AccountNumber: cfg.PurolatorAccountNumber,
			WSDLURL:       cfg.PurolatorWSDLURL,
			UseMock:       cfg.PurolatorUseMock,
			MaxWeightKG:   cfg.PurolatorMaxWeightKG,
		}, logger, tracer))
	}

	if registry.Count() == 0 {
		return nil, fmt.Errorf("no carriers enabled")
	}

	priority, err := cfg.Priority()
	if err != nil {
		return nil, err
	}
	registry.SetPriority(priority)
	for id, d := range cfg.CarrierTimeouts() {
		registry.SetTimeout(id, d)
	}
	return registry, nil
}

func initMapper(cfg *config.Config, logger *otelzap.Logger, metrics *telemetry.Metrics) (*status.Mapper, error) {
	mapper := status.NewMapper(func(id carrier.Identity, raw, description string) {
		logger.Warn("Unmapped carrier status",
			zap.String("carrier", string(id)),
			zap.String("raw_status", raw),
			zap.String("description", description),
		)
		metrics.RecordMappingGap(id)
	})
	mapper.Register(carrier.Freightcom, freightcom.StatusTable())
	mapper.Register(carrier.CanadaPost, canadapost.StatusTable())
	mapper.Register(carrier.Purolator, purolator.StatusTable())

	if cfg.StatusOverrides != "" {
		overrides, err := status.LoadOverrides(cfg.StatusOverrides)
		if err != nil {
			return nil, err
		}
		mapper.ApplyOverrides(overrides)
		logger.Info("Loaded status overrides", zap.String("file", cfg.StatusOverrides), zap.Int("carriers", len(overrides)))
	}
	return mapper, nil
}

func initOrderStore(ctx context.Context, cfg *config.Config, logger *otelzap.Logger) (order.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, orders are kept in memory")
		return order.NewMemoryStore(), func() {}, nil
	}
	store, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func initPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("EVENTS_BACKEND=kafka requires KAFKA_BROKERS")
		}
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "amqp":
		return events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return events.Nop{}, nil
	}
}

// buildApp wires every component from configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) (*app, error) {
	a := &app{cfg: cfg}
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	registry, err := initCarrierRegistry(cfg, logger, tracer, metrics)
	if err != nil {
		return nil, err
	}
	a.registry = registry

	mapper, err := initMapper(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	orders, closeStore, err := initOrderStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.orders = orders
	a.closers = append(a.closers, closeStore)

	publisher, err := initPublisher(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.publisher = publisher
	a.closers = append(a.closers, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close event publisher", zap.Error(err))
		}
	})

	var (
		trackOpts   = []tracking.Option{tracking.WithMetrics(metrics), tracking.WithTracer(tracer)}
		bookingOpts = []booking.Option{
			booking.WithPublisher(publisher),
			booking.WithMetrics(metrics),
			booking.WithTracer(tracer),
			booking.WithReservationTTL(cfg.BookingLockTTL),
		}
	)
	if cfg.RedisAddr != "" {
		rdb := rediscache.Open(cfg.RedisAddr)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		trackOpts = append(trackOpts, tracking.WithCache(rediscache.New(rdb, "track:"), cfg.TrackingCacheTTL))
		bookingOpts = append(bookingOpts, booking.WithLocker(rediscache.NewLocker(rdb, cfg.BookingLockTTL)))
		a.limiter = rediscache.NewRateLimiter(rdb, cfg.PublicRateLimit, cfg.PublicRateWindow)
	} else {
		logger.Info("REDIS_ADDR not set, tracking cache, rate limit and distributed booking lock disabled")
	}

	reconciler := tracking.NewReconciler(orders, mapper, logger,
		tracking.WithPublisher(publisher),
		tracking.WithReconcileTimeout(cfg.ReconcileTimeout),
		tracking.WithReconcilerMetrics(metrics),
		tracking.WithReconcilerTracer(tracer),
	)
	a.tracker = tracking.NewCoordinator(registry, mapper, reconciler, logger, trackOpts...)
	a.booking = booking.New(registry, orders, logger, bookingOpts...)
	return a, nil
}
