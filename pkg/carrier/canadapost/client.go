// Package canadapost provides integration with the Canada Post shipping API.
package canadapost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
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

const carrierName = carrier.CanadaPost

// Config holds Canada Post configuration.
type Config struct {
	APIKey         string
	APISecret      string
	AccountID      string
	CustomerNumber string
	BaseURL        string
	UseMock        bool          // When true, uses mock API client
	Timeout        time.Duration // HTTP client timeout
	MaxWeightKG    float64       // Zero means no limit
	Countries      []string      // Destination countries served; empty means all
}

// Client is the Canada Post carrier client.
// It implements the carrier.Client interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Canada Post client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			AccountID: cfg.AccountID,
			Timeout:   cfg.Timeout,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Canada Post client with a custom API client.
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

// Serves reports whether the shipment fits the configured weight and destination limits.
func (c *Client) Serves(s *carrier.Shipment) bool {
	if c.config.MaxWeightKG > 0 && s.TotalWeightKG() > c.config.MaxWeightKG {
		return false
	}
	if len(c.config.Countries) > 0 && !slices.Contains(c.config.Countries, strings.ToUpper(s.Destination.CountryCode)) {
		return false
	}
	return true
}

// Lookup tracks a PIN directly, or resolves an order id through the
// customer reference search. Phone lookups are not offered by Canada Post.
func (c *Client) Lookup(ctx context.Context, q carrier.Query) (*carrier.ProviderResult, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.Lookup",
		trace.WithAttributes(attribute.String("query.kind", string(q.Kind()))))
	defer span.End()

	c.logger.Ctx(ctx).Debug("Looking up Canada Post item",
		zap.String("kind", string(q.Kind())),
	)

	var pin string
	switch q.Kind() {
	case carrier.QueryWaybill:
		pin = q.Waybill
	case carrier.QueryOrderID:
		pins, err := c.apiClient.FindPINs(ctx, q.OrderID)
		if err != nil {
			return nil, wrapError(err)
		}
		if len(pins) == 0 {
			return nil, carrier.NewCarrierError(carrierName, "NOT_FOUND",
				"no item for customer reference").WithStatusCode(http.StatusNotFound)
		}
		pin = pins[0]
	case carrier.QueryPhone:
		return nil, fmt.Errorf("%s: %w", carrierName, carrier.ErrUnsupportedQuery)
	default:
		return nil, carrier.ErrInvalidQuery
	}

	tr, err := c.apiClient.GetTracking(ctx, pin)
	if err != nil {
		return nil, wrapError(err)
	}
	if tr.TrackingPIN == "" {
		tr.TrackingPIN = pin
	}
	return trackingToResult(tr)
}

// Quote returns shipping options from Canada Post.
func (c *Client) Quote(ctx context.Context, s *carrier.Shipment) ([]carrier.ServiceOption, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.Quote")
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting Canada Post quotes",
		zap.String("origin_postal", s.Origin.PostalCode),
		zap.String("destination_postal", s.Destination.PostalCode),
		zap.Float64("weight_kg", s.TotalWeightKG()),
		zap.Bool("cod", s.IsCOD()),
	)

	apiResp, err := c.apiClient.GetRates(ctx, &RatesRequest{
		CustomerNumber: c.config.CustomerNumber,
		Weight:         s.TotalWeightKG(),
		Dimensions:     dimensionsOf(s.Packages),
		OriginPostal:   s.Origin.PostalCode,
		Destination: Destination{
			PostalCode:  s.Destination.PostalCode,
			CountryCode: strings.ToUpper(s.Destination.CountryCode),
		},
		Options: codOptions(s),
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Canada Post API error", zap.Error(err))
		return nil, wrapError(err)
	}

	options := make([]carrier.ServiceOption, 0, len(apiResp.Rates))
	for _, r := range apiResp.Rates {
		opt, err := rateToOption(r)
		if err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return options, nil
}

// Book creates a shipment with Canada Post for the chosen service.
func (c *Client) Book(ctx context.Context, s *carrier.Shipment, opt carrier.ServiceOption) (*carrier.BookingResult, error) {
	ctx, span := c.tracer.Start(ctx, "canadapost.Book",
		trace.WithAttributes(attribute.String("service_id", opt.ServiceID)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Canada Post shipment",
		zap.String("service_code", opt.ServiceID),
		zap.String("reference", s.Reference),
	)

	apiResp, err := c.apiClient.CreateShipment(ctx, &ShipmentRequest{
		ServiceCode:      opt.ServiceID,
		CustomerRef:      s.Reference,
		Sender:           addressToAPI(s.Origin),
		Destination:      addressToAPI(s.Destination),
		ParcelWeight:     s.TotalWeightKG(),
		ParcelDimensions: dimensionsOf(s.Packages),
		Options:          codOptions(s),
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Canada Post API error", zap.Error(err))
		return nil, wrapError(err)
	}

	charged := opt.Total
	if apiResp.TotalCharged > 0 {
		if charged, err = carrier.Money(apiResp.TotalCharged); err != nil {
			return nil, err
		}
	}

	return &carrier.BookingResult{
		Carrier:     carrierName,
		Waybill:     apiResp.TrackingPIN,
		ShipmentID:  apiResp.ShipmentID,
		ServiceID:   opt.ServiceID,
		Charged:     charged,
		Currency:    "CAD",
		TrackingURL: "https://www.canadapost-postescanada.ca/track-reperage/en#/details/" + apiResp.TrackingPIN,
		LabelURL:    apiResp.LabelURL,
	}, nil
}

// ============================================================================
// Conversion helpers
// ============================================================================

func addressToAPI(addr carrier.Address) Address {
	return Address{
		Name:         addr.Name,
		Company:      addr.Company,
		AddressLine1: addr.Line1,
		AddressLine2: addr.Line2,
		City:         addr.City,
		Province:     addr.ProvinceCode,
		PostalCode:   addr.PostalCode,
		CountryCode:  addr.CountryCode,
		Phone:        addr.Phone,
	}
}

// dimensionsOf returns the largest package's dimensions in cm.
func dimensionsOf(pkgs []carrier.Package) Dimensions {
	var d Dimensions
	for _, p := range pkgs {
		scale := 1.0
		if p.DimensionUnit == carrier.DimensionIN {
			scale = 2.54
		}
		if p.Length*scale > d.Length {
			d = Dimensions{Length: p.Length * scale, Width: p.Width * scale, Height: p.Height * scale}
		}
	}
	return d
}

func codOptions(s *carrier.Shipment) []Option {
	if !s.IsCOD() {
		return nil
	}
	return []Option{{Code: "COD", Amount: s.CODAmount.String()}}
}

func rateToOption(r Rate) (carrier.ServiceOption, error) {
	total, err := carrier.Money(r.TotalPrice)
	if err != nil {
		return carrier.ServiceOption{}, err
	}
	cod := decimal.Decimal{}
	if r.CODCharge > 0 {
		if cod, err = carrier.Money(r.CODCharge); err != nil {
			return carrier.ServiceOption{}, err
		}
	}
	freight, err := total.Sub(cod)
	if err != nil {
		return carrier.ServiceOption{}, err
	}
	return carrier.NewServiceOption(carrierName, r.ServiceCode, r.ServiceName, freight, cod, "CAD", r.ExpectedTransit)
}

func trackingToResult(tr *TrackingResponse) (*carrier.ProviderResult, error) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("encoding canadapost payload: %w", err)
	}

	events := make([]carrier.RawEvent, 0, len(tr.Events))
	for _, e := range tr.Events {
		ts, _ := time.Parse("2006-01-02 15:04:05", e.Date+" "+e.Time)
		location := e.Site
		if e.Province != "" {
			location += ", " + e.Province
		}
		events = append(events, carrier.RawEvent{
			Timestamp:   ts,
			Code:        e.Identifier,
			Description: e.Description,
			Location:    strings.TrimPrefix(location, ", "),
		})
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
