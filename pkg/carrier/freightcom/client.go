// Package freightcom provides integration with the Freightcom shipping API.
package freightcom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

const carrierName = carrier.Freightcom

// Config holds Freightcom configuration.
type Config struct {
	APIKey          string
	BaseURL         string
	PaymentMethodID int           // Required for creating shipments
	UseMock         bool          // When true, uses mock API client
	Timeout         time.Duration // HTTP client timeout
	MaxWeightKG     float64       // Zero means no limit
	Countries       []string      // Destination countries served; empty means all
}

// Client is the Freightcom carrier client.
// It implements the carrier.Client interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
}

// New creates a new Freightcom client.
// If cfg.UseMock is true, it uses a mock API client for testing.
// Otherwise, it uses the real HTTP API client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Freightcom client with a custom API client.
// This is useful for injecting mock clients in tests.
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

// Lookup finds the shipment by tracking number, unique id or recipient phone
// and returns its tracking events.
func (c *Client) Lookup(ctx context.Context, q carrier.Query) (*carrier.ProviderResult, error) {
	ctx, span := c.tracer.Start(ctx, "freightcom.Lookup",
		trace.WithAttributes(attribute.String("query.kind", string(q.Kind()))))
	defer span.End()

	c.logger.Ctx(ctx).Debug("Looking up Freightcom shipment",
		zap.String("kind", string(q.Kind())),
	)

	var search ShipmentSearch
	switch q.Kind() {
	case carrier.QueryWaybill:
		search.TrackingNumber = q.Waybill
	case carrier.QueryOrderID:
		search.UniqueID = q.OrderID
	case carrier.QueryPhone:
		search.RecipientPhone = q.Phone
	default:
		return nil, carrier.ErrInvalidQuery
	}

	found, err := c.apiClient.SearchShipments(ctx, search)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(found) == 0 {
		return nil, carrier.NewCarrierError(carrierName, "NOT_FOUND",
			fmt.Sprintf("no shipment for %s", q.Kind())).WithStatusCode(http.StatusNotFound)
	}

	tr, err := c.apiClient.GetTracking(ctx, found[0].ID)
	if err != nil {
		return nil, wrapError(err)
	}
	if tr.TrackingNumber == "" {
		tr.TrackingNumber = found[0].TrackingNumber
	}
	return trackingToResult(tr)
}

// Quote returns shipping options from Freightcom.
func (c *Client) Quote(ctx context.Context, s *carrier.Shipment) ([]carrier.ServiceOption, error) {
	ctx, span := c.tracer.Start(ctx, "freightcom.Quote")
	defer span.End()

	c.logger.Ctx(ctx).Info("Getting Freightcom quotes",
		zap.String("origin_city", s.Origin.City),
		zap.String("destination_city", s.Destination.City),
		zap.Int("package_count", len(s.Packages)),
		zap.Bool("cod", s.IsCOD()),
	)

	apiResp, err := c.apiClient.GetRates(ctx, &RatesRequest{Details: shipmentToDetails(s)})
	if err != nil {
		c.logger.Ctx(ctx).Error("Freightcom API error", zap.Error(err))
		return nil, wrapError(err)
	}

	return ratesToOptions(apiResp)
}

// Book creates a shipment with Freightcom for the chosen service.
func (c *Client) Book(ctx context.Context, s *carrier.Shipment, opt carrier.ServiceOption) (*carrier.BookingResult, error) {
	ctx, span := c.tracer.Start(ctx, "freightcom.Book",
		trace.WithAttributes(attribute.String("service_id", opt.ServiceID)))
	defer span.End()

	c.logger.Ctx(ctx).Info("Creating Freightcom shipment",
		zap.String("service_id", opt.ServiceID),
		zap.String("reference", s.Reference),
	)

	serviceID, err := strconv.Atoi(opt.ServiceID)
	if err != nil {
		return nil, carrier.NewCarrierError(carrierName, "INVALID_SERVICE",
			fmt.Sprintf("unknown service %q", opt.ServiceID)).WithCause(err)
	}

	// unique_id makes Freightcom return the existing shipment on a replay
	uniqueID := s.Reference
	if uniqueID == "" {
		uniqueID = uuid.New().String()
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, &ShipmentRequest{
		UniqueID:        uniqueID,
		PaymentMethodID: c.config.PaymentMethodID,
		ServiceID:       serviceID,
		Details:         shipmentToDetails(s),
		Reference:       s.Reference,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Freightcom API error", zap.Error(err))
		return nil, wrapError(err)
	}

	return shipmentToBooking(apiResp, opt)
}

// ============================================================================
// Conversion helpers: carrier models -> API models
// ============================================================================

func addressToLocation(addr carrier.Address) Location {
	return Location{
		Name:        addr.Name,
		Company:     addr.Company,
		Address1:    addr.Line1,
		Address2:    addr.Line2,
		City:        addr.City,
		Province:    addr.ProvinceCode,
		PostalCode:  addr.PostalCode,
		Country:     addr.CountryCode,
		Phone:       addr.Phone,
		Email:       addr.Email,
		Residential: addr.IsResidential,
	}
}

func packagesToAPI(pkgs []carrier.Package) []Package {
	result := make([]Package, len(pkgs))
	for i, p := range pkgs {
		result[i] = Package{
			Length:      p.Length,
			Width:       p.Width,
			Height:      p.Height,
			Weight:      p.WeightKG(),
			Description: p.Description,
			Quantity:    1,
		}
	}
	return result
}

func shipmentToDetails(s *carrier.Shipment) ShippingDetails {
	d := ShippingDetails{
		Origin:      addressToLocation(s.Origin),
		Destination: addressToLocation(s.Destination),
		Packaging: PackagingInfo{
			Type:     "package",
			Packages: packagesToAPI(s.Packages),
		},
	}
	if s.IsCOD() {
		d.CashOnDelivery = &CashOnDelivery{Amount: s.CODAmount.String(), Currency: s.Currency}
	}
	return d
}

// ============================================================================
// Conversion helpers: API models -> carrier models
// ============================================================================

func ratesToOptions(resp *RatesResponse) ([]carrier.ServiceOption, error) {
	options := make([]carrier.ServiceOption, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		total, err := carrier.Money(r.TotalPrice)
		if err != nil {
			return nil, err
		}
		var codFee float64
		for _, sc := range r.Surcharges {
			if strings.EqualFold(sc.Code, "COD") {
				codFee += sc.Amount
			}
		}
		cod, err := carrier.Money(codFee)
		if err != nil {
			return nil, err
		}
		freight, err := total.Sub(cod)
		if err != nil {
			return nil, err
		}

		name := r.ServiceName
		if r.CarrierName != "" && !strings.HasPrefix(name, r.CarrierName) {
			name = r.CarrierName + " " + name
		}
		opt, err := carrier.NewServiceOption(carrierName, strconv.Itoa(r.ServiceID), name, freight, cod, r.Currency, r.TransitDays)
		if err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return options, nil
}

func shipmentToBooking(resp *ShipmentResponse, opt carrier.ServiceOption) (*carrier.BookingResult, error) {
	charged := decimal.Decimal{}
	if resp.TotalCharged > 0 {
		var err error
		if charged, err = carrier.Money(resp.TotalCharged); err != nil {
			return nil, err
		}
	}

	trackingNumber := ""
	if len(resp.TrackingNumbers) > 0 {
		trackingNumber = resp.TrackingNumbers[0]
	}

	return &carrier.BookingResult{
		Carrier:     carrierName,
		Waybill:     trackingNumber,
		ShipmentID:  resp.ID,
		ServiceID:   opt.ServiceID,
		Charged:     charged,
		Currency:    resp.Currency,
		TrackingURL: resp.TrackingURL,
		LabelURL:    resp.LabelURL,
	}, nil
}

func trackingToResult(tr *TrackingResponse) (*carrier.ProviderResult, error) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("encoding freightcom payload: %w", err)
	}

	events := make([]carrier.RawEvent, 0, len(tr.Events))
	for _, e := range tr.Events {
		ts, _ := time.Parse(time.RFC3339, e.Timestamp)
		code := e.Status
		if code == "" {
			code = e.Code
		}
		events = append(events, carrier.RawEvent{
			Timestamp:   ts,
			Code:        code,
			Description: e.Description,
			Location:    e.Location,
		})
	}

	return &carrier.ProviderResult{
		Carrier:   carrierName,
		Waybill:   tr.TrackingNumber,
		RawStatus: tr.Status,
		RawEvents: events,
		Payload:   payload,
	}, nil
}

func wrapError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		for field, fieldMsg := range apiErr.Errors {
			msg += fmt.Sprintf("; %s: %s", field, fieldMsg)
		}
		ce := carrier.NewCarrierError(carrierName, apiErr.Code, msg).WithCause(err)
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
