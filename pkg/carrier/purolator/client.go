// Package purolator provides integration with the Purolator shipping API.
package purolator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/govalues/decimal"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

const carrierName = carrier.Purolator

// Config holds Purolator configuration.
type Config struct {
	Username      string
	Password      string
	AccountNumber string
	WSDLURL       string
	UseMock       bool
	Timeout       time.Duration
	MaxWeightKG   float64
	Countries     []string
}

// Client is the Purolator API client.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Purolator client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewSOAPAPIClient(SOAPAPIClientConfig{
			WSDLURL:  cfg.WSDLURL,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  cfg.Timeout,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Purolator client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(string(carrierName))
	}
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    tracer,
	}
}

// Name returns the carrier identity.
func (c *Client) Name() carrier.Identity {
	return carrierName
}

// Serves reports whether the shipment fits the configured limits.
func (c *Client) Serves(s *carrier.Shipment) bool {
	if c.config.MaxWeightKG > 0 && s.TotalWeightKG() > c.config.MaxWeightKG {
		return false
	}
	if len(c.config.Countries) > 0 && !slices.Contains(c.config.Countries, strings.ToUpper(s.Destination.CountryCode)) {
		return false
	}
	return true
}

// Lookup tracks by PIN or by shipper reference.
func (c *Client) Lookup(ctx context.Context, q carrier.Query) (*carrier.ProviderResult, error) {
	ctx, span := c.tracer.Start(ctx, "purolator.Lookup",
		trace.WithAttributes(attribute.String("query.kind", string(q.Kind()))))
	defer span.End()

	var (
		tr  *TrackingResponse
		err error
	)
	switch q.Kind() {
	case carrier.QueryWaybill:
		tr, err = c.apiClient.GetTracking(ctx, q.Waybill)
	case carrier.QueryOrderID:
		tr, err = c.apiClient.GetTrackingByReference(ctx, q.OrderID)
	case carrier.QueryPhone:
		return nil, fmt.Errorf("%s: %w", carrierName, carrier.ErrUnsupportedQuery)
	default:
		return nil, carrier.ErrInvalidQuery
	}
	if err != nil {
		c.logger.Ctx(ctx).Debug("Purolator tracking failed", zap.Error(err))
		return nil, wrapError(err)
	}

	return trackingToResult(tr)
}

// Quote returns shipping options from Purolator.
func (c *Client) Quote(ctx context.Context, s *carrier.Shipment) ([]carrier.ServiceOption, error) {
	ctx, span := c.tracer.Start(ctx, "purolator.Quote")
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting Purolator quotes",
		zap.String("origin_postal", s.Origin.PostalCode),
		zap.String("destination_postal", s.Destination.PostalCode),
		zap.Int("package_count", len(s.Packages)),
	)

	apiResp, err := c.apiClient.GetRates(ctx, &RatesRequest{
		BillingAccountNumber: c.config.AccountNumber,
		SenderPostalCode:     s.Origin.PostalCode,
		ReceiverAddress:      addressToAPI(s.Destination),
		PackageInformation:   packageInfo(s),
		CODAmount:            codAmount(s),
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Purolator API error", zap.Error(err))
		return nil, wrapError(err)
	}

	options := make([]carrier.ServiceOption, 0, len(apiResp.ShipmentRates))
	for _, r := range apiResp.ShipmentRates {
		total, err := carrier.Money(r.TotalPrice)
		if err != nil {
			return nil, err
		}
		cod := decimal.Decimal{}
		if r.CODCharge > 0 {
			if cod, err = carrier.Money(r.CODCharge); err != nil {
				return nil, err
			}
		}
		freight, err := total.Sub(cod)
		if err != nil {
			return nil, err
		}
		opt, err := carrier.NewServiceOption(carrierName, r.ServiceCode, r.ServiceName, freight, cod, "CAD", r.EstimatedTransitDays)
		if err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return options, nil
}

// Book creates a Purolator shipment.
func (c *Client) Book(ctx context.Context, s *carrier.Shipment, opt carrier.ServiceOption) (*carrier.BookingResult, error) {
	ctx, span := c.tracer.Start(ctx, "purolator.Book",
		trace.WithAttributes(attribute.String("service_id", opt.ServiceID)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Purolator shipment",
		zap.String("service_code", opt.ServiceID),
		zap.String("reference", s.Reference),
	)

	apiResp, err := c.apiClient.CreateShipment(ctx, &ShipmentRequest{
		BillingAccountNumber: c.config.AccountNumber,
		ServiceCode:          opt.ServiceID,
		Reference:            s.Reference,
		Sender:               addressToAPI(s.Origin),
		Receiver:             addressToAPI(s.Destination),
		PackageInformation:   packageInfo(s),
		CODAmount:            codAmount(s),
		PrinterType:          "Thermal",
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Purolator API error", zap.Error(err))
		return nil, wrapError(err)
	}

	charged := opt.Total
	if apiResp.TotalPrice > 0 {
		if charged, err = carrier.Money(apiResp.TotalPrice); err != nil {
			return nil, err
		}
	}

	return &carrier.BookingResult{
		Carrier:     carrierName,
		Waybill:     apiResp.ShipmentPIN,
		ShipmentID:  apiResp.ShipmentPIN,
		ServiceID:   opt.ServiceID,
		Charged:     charged,
		Currency:    "CAD",
		TrackingURL: "https://www.purolator.com/en/shipping/tracker?pin=" + apiResp.ShipmentPIN,
		LabelURL:    apiResp.LabelURL,
	}, nil
}

// ============================================================================
// Conversion helpers
// ============================================================================

func addressToAPI(addr carrier.Address) Address {
	street := addr.Line1
	if addr.Line2 != "" {
		street += " " + addr.Line2
	}
	return Address{
		Name:          addr.Name,
		Company:       addr.Company,
		StreetAddress: street,
		City:          addr.City,
		Province:      addr.ProvinceCode,
		PostalCode:    addr.PostalCode,
		Country:       addr.CountryCode,
		Phone:         addr.Phone,
	}
}

func packageInfo(s *carrier.Shipment) PackageInformation {
	return PackageInformation{
		TotalWeight: Weight{Value: s.TotalWeightKG(), Unit: "kg"},
		TotalPieces: len(s.Packages),
	}
}

func codAmount(s *carrier.Shipment) string {
	if !s.IsCOD() {
		return ""
	}
	return s.CODAmount.String()
}

var scanLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T150405", "2006-01-02T15:04"}

func parseScanTime(ts string) time.Time {
	for _, layout := range scanLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}

func trackingToResult(tr *TrackingResponse) (*carrier.ProviderResult, error) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("encoding purolator payload: %w", err)
	}

	events := make([]carrier.RawEvent, len(tr.Events))
	for i, e := range tr.Events {
		events[i] = carrier.RawEvent{
			Timestamp:   parseScanTime(e.Timestamp),
			Code:        e.Type,
			Description: e.Description,
			Location:    e.Location,
		}
	}

	return &carrier.ProviderResult{
		Carrier:   carrierName,
		Waybill:   tr.TrackingPIN,
		RawStatus: tr.Status,
		RawEvents: events,
		Payload:   payload,
	}, nil
}

func wrapError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		ce := carrier.NewCarrierError(carrierName, apiErr.Code, apiErr.Description).WithCause(err)
		if apiErr.StatusCode != 0 {
			ce = ce.WithStatusCode(apiErr.StatusCode)
		}
		return ce
	}
	return carrier.Classify(carrierName, err)
}

var (
	_ carrier.Client             = (*Client)(nil)
	_ carrier.EligibilityChecker = (*Client)(nil)
)
