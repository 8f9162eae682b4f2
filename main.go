package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/internal/server"
	"github.com/tournevent/carrierhub/internal/tracking"
	"github.com/tournevent/carrierhub/pkg/carrier"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "carrierhub",
	Short:   "Multi-carrier tracking, rate shopping and booking service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track a shipment across all carriers and print the match as JSON",
	RunE:  runTrack,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a merchant API token signed with JWT_SECRET",
	RunE:  runToken,
}

var (
	trackWaybill  string
	trackOrderID  string
	trackPhone    string
	trackCarriers []string

	tokenMerchant string
	tokenTTL      time.Duration
)

func init() {
	trackCmd.Flags().StringVar(&trackWaybill, "waybill", "", "carrier waybill")
	trackCmd.Flags().StringVar(&trackOrderID, "order-id", "", "merchant order id")
	trackCmd.Flags().StringVar(&trackPhone, "phone", "", "recipient phone number")
	trackCmd.Flags().StringSliceVar(&trackCarriers, "carrier", nil, "restrict the lookup to these carriers")

	tokenCmd.Flags().StringVar(&tokenMerchant, "merchant", "", "merchant id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("merchant")

	rootCmd.AddCommand(serveCmd, trackCmd, tokenCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.WithoutCancel(ctx))
	}

	a, err := buildApp(ctx, cfg, logger, tracer)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("Starting carrier hub",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.Any("carriers", a.registry.Names()),
	)

	// Start HTTP server
	srv := server.New(server.Config{
		Port:           cfg.Port,
		JWTSecret:      cfg.JWTSecret,
		DefaultCarrier: carrier.Identity(cfg.DefaultCarrier),
	}, server.Deps{
		Tracker: a.tracker,
		Booking: a.booking,
		Orders:  a.orders,
		Limiter: a.limiter,
	}, logger)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, _, err := initTracer(ctx, cfg)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, logger, tracer)
	if err != nil {
		return err
	}
	defer a.close()

	q := carrier.Query{Waybill: trackWaybill, OrderID: trackOrderID, Phone: trackPhone}
	only := make([]carrier.Identity, 0, len(trackCarriers))
	for _, name := range trackCarriers {
		id, err := carrier.ParseIdentity(name)
		if err != nil {
			return err
		}
		only = append(only, id)
	}

	var m *tracking.Match
	if len(only) > 0 {
		m, err = a.tracker.TrackWith(ctx, q, only...)
	} else {
		m, err = a.tracker.Track(ctx, q)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	token, err := server.NewAuthenticator(cfg.JWTSecret).Issue(tokenMerchant, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
