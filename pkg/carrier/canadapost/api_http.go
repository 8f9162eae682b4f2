package canadapost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP/XML.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	accountID  string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string // Password for Basic Auth
	AccountID string
	Timeout   time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		accountID: cfg.AccountID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ============================================================================
// XML Request/Response structures for Canada Post API
// ============================================================================

type mailingScenario struct {
	XMLName          xml.Name              `xml:"mailing-scenario"`
	Xmlns            string                `xml:"xmlns,attr"`
	CustomerNumber   string                `xml:"customer-number,omitempty"`
	Options          *xmlOptions           `xml:"options,omitempty"`
	ParcelCharacter  parcelCharacteristics `xml:"parcel-characteristics"`
	OriginPostalCode string                `xml:"origin-postal-code"`
	Destination      xmlDestination        `xml:"destination"`
}

type xmlOptions struct {
	Option []xmlOption `xml:"option"`
}

type xmlOption struct {
	Code   string `xml:"option-code"`
	Amount string `xml:"option-amount,omitempty"`
}

type parcelCharacteristics struct {
	Weight     float64        `xml:"weight"`
	Dimensions *xmlDimensions `xml:"dimensions,omitempty"`
}

type xmlDimensions struct {
	Length float64 `xml:"length"`
	Width  float64 `xml:"width"`
	Height float64 `xml:"height"`
}

type xmlDestination struct {
	Domestic      *xmlDomestic      `xml:"domestic,omitempty"`
	UnitedStates  *xmlUnitedStates  `xml:"united-states,omitempty"`
	International *xmlInternational `xml:"international,omitempty"`
}

type xmlDomestic struct {
	PostalCode string `xml:"postal-code"`
}

type xmlUnitedStates struct {
	ZipCode string `xml:"zip-code"`
}

type xmlInternational struct {
	CountryCode string `xml:"country-code"`
}

type priceQuotes struct {
	XMLName    xml.Name     `xml:"price-quotes"`
	PriceQuote []priceQuote `xml:"price-quote"`
}

type priceQuote struct {
	ServiceCode     string          `xml:"service-code"`
	ServiceName     string          `xml:"service-name"`
	PriceDetails    priceDetails    `xml:"price-details"`
	ServiceStandard serviceStandard `xml:"service-standard"`
}

type priceDetails struct {
	Due     float64 `xml:"due"`
	Options struct {
		Option []struct {
			Code  string  `xml:"option-code"`
			Price float64 `xml:"option-price"`
		} `xml:"option"`
	} `xml:"options"`
}

type serviceStandard struct {
	ExpectedTransitTime int `xml:"expected-transit-time"`
}

type shipmentInfo struct {
	XMLName      xml.Name     `xml:"shipment"`
	Xmlns        string       `xml:"xmlns,attr"`
	GroupID      string       `xml:"group-id,omitempty"`
	DeliverySpec deliverySpec `xml:"delivery-spec"`
}

type deliverySpec struct {
	ServiceCode     string                `xml:"service-code"`
	Sender          xmlSenderInfo         `xml:"sender"`
	Destination     xmlDestinationInfo    `xml:"destination"`
	Options         *xmlOptions           `xml:"options,omitempty"`
	ParcelCharacter parcelCharacteristics `xml:"parcel-characteristics"`
	References      xmlReferences         `xml:"references"`
}

type xmlReferences struct {
	CustomerRef1 string `xml:"customer-ref-1,omitempty"`
}

type xmlSenderInfo struct {
	Name           string            `xml:"name"`
	Company        string            `xml:"company,omitempty"`
	ContactPhone   string            `xml:"contact-phone"`
	AddressDetails xmlAddressDetails `xml:"address-details"`
}

type xmlDestinationInfo struct {
	Name           string            `xml:"name"`
	Company        string            `xml:"company,omitempty"`
	AddressDetails xmlAddressDetails `xml:"address-details"`
}

type xmlAddressDetails struct {
	AddressLine1  string `xml:"address-line-1"`
	AddressLine2  string `xml:"address-line-2,omitempty"`
	City          string `xml:"city"`
	ProvState     string `xml:"prov-state"`
	PostalZipCode string `xml:"postal-zip-code"`
	CountryCode   string `xml:"country-code"`
}

type shipmentInfoResponse struct {
	XMLName        xml.Name `xml:"shipment-info"`
	ShipmentID     string   `xml:"shipment-id"`
	ShipmentStatus string   `xml:"shipment-status"`
	TrackingPIN    string   `xml:"tracking-pin"`
	Links          struct {
		Link []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
	} `xml:"links"`
}

type trackingDetail struct {
	XMLName      xml.Name `xml:"tracking-detail"`
	PIN          string   `xml:"pin"`
	CustomerRef  string   `xml:"mailed-by-customer-ref-1"`
	ExpectedDate string   `xml:"expected-delivery-date"`
	Events       struct {
		Occurrence []struct {
			Identifier  string `xml:"event-identifier"`
			Date        string `xml:"event-date"`
			Time        string `xml:"event-time"`
			Description string `xml:"event-description"`
			Site        string `xml:"event-site"`
			Province    string `xml:"event-province"`
		} `xml:"occurrence"`
	} `xml:"significant-events"`
}

type trackingSummaryList struct {
	XMLName xml.Name `xml:"tracking-summary"`
	PIN     []struct {
		PIN string `xml:"pin"`
	} `xml:"pin-summary"`
}

type messages struct {
	XMLName xml.Name  `xml:"messages"`
	Message []message `xml:"message"`
}

type message struct {
	Code        string `xml:"code"`
	Description string `xml:"description"`
}

// ============================================================================
// API Implementation
// ============================================================================

// GetRates fetches shipping rates from the Canada Post API.
func (c *HTTPAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	scenario := mailingScenario{
		Xmlns:            "http://www.canadapost.ca/ws/ship/rate-v4",
		CustomerNumber:   req.CustomerNumber,
		Options:          optionsToXML(req.Options),
		OriginPostalCode: normalizePostalCode(req.OriginPostal),
		ParcelCharacter:  parcel(req.Weight, req.Dimensions),
	}

	switch req.Destination.CountryCode {
	case "", "CA":
		scenario.Destination.Domestic = &xmlDomestic{PostalCode: normalizePostalCode(req.Destination.PostalCode)}
	case "US":
		scenario.Destination.UnitedStates = &xmlUnitedStates{ZipCode: req.Destination.PostalCode}
	default:
		scenario.Destination.International = &xmlInternational{CountryCode: req.Destination.CountryCode}
	}

	var quotes priceQuotes
	if err := c.exchange(ctx, http.MethodPost, "/rs/ship/price", "application/vnd.cpc.ship.rate-v4+xml", scenario, &quotes); err != nil {
		return nil, err
	}

	rates := make([]Rate, len(quotes.PriceQuote))
	for i, q := range quotes.PriceQuote {
		var cod float64
		for _, opt := range q.PriceDetails.Options.Option {
			if opt.Code == "COD" {
				cod += opt.Price
			}
		}
		rates[i] = Rate{
			ServiceCode:     q.ServiceCode,
			ServiceName:     q.ServiceName,
			TotalPrice:      q.PriceDetails.Due,
			CODCharge:       cod,
			ExpectedTransit: q.ServiceStandard.ExpectedTransitTime,
		}
	}
	return &RatesResponse{Rates: rates}, nil
}

// CreateShipment creates a new shipment via the Canada Post API.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	shipment := shipmentInfo{
		Xmlns:   "http://www.canadapost.ca/ws/shipment-v8",
		GroupID: req.GroupID,
		DeliverySpec: deliverySpec{
			ServiceCode: req.ServiceCode,
			Sender: xmlSenderInfo{
				Name:           req.Sender.Name,
				Company:        req.Sender.Company,
				ContactPhone:   req.Sender.Phone,
				AddressDetails: addressToXML(req.Sender),
			},
			Destination: xmlDestinationInfo{
				Name:           req.Destination.Name,
				Company:        req.Destination.Company,
				AddressDetails: addressToXML(req.Destination),
			},
			Options:         optionsToXML(req.Options),
			ParcelCharacter: parcel(req.ParcelWeight, req.ParcelDimensions),
			References:      xmlReferences{CustomerRef1: req.CustomerRef},
		},
	}

	var info shipmentInfoResponse
	path := fmt.Sprintf("/rs/%s/%s/shipment", c.accountID, c.accountID)
	if err := c.exchange(ctx, http.MethodPost, path, "application/vnd.cpc.shipment-v8+xml", shipment, &info); err != nil {
		return nil, err
	}

	resp := &ShipmentResponse{
		ShipmentID:     info.ShipmentID,
		TrackingPIN:    info.TrackingPIN,
		ShipmentStatus: info.ShipmentStatus,
	}
	for _, l := range info.Links.Link {
		if l.Rel == "label" {
			resp.LabelURL = l.Href
		}
	}
	return resp, nil
}

// GetTracking retrieves the tracking detail for a PIN.
func (c *HTTPAPIClient) GetTracking(ctx context.Context, pin string) (*TrackingResponse, error) {
	var detail trackingDetail
	path := fmt.Sprintf("/vis/track/pin/%s/detail", url.PathEscape(pin))
	if err := c.exchange(ctx, http.MethodGet, path, "application/vnd.cpc.track-v2+xml", nil, &detail); err != nil {
		return nil, err
	}

	resp := &TrackingResponse{
		TrackingPIN:  detail.PIN,
		CustomerRef:  detail.CustomerRef,
		ExpectedDate: detail.ExpectedDate,
	}
	for _, o := range detail.Events.Occurrence {
		resp.Events = append(resp.Events, TrackingEvent{
			Identifier:  o.Identifier,
			Date:        o.Date,
			Time:        o.Time,
			Description: o.Description,
			Site:        o.Site,
			Province:    o.Province,
		})
	}
	if len(resp.Events) > 0 {
		resp.Status = resp.Events[0].Identifier
	}
	return resp, nil
}

// FindPINs searches tracking summaries by customer reference.
func (c *HTTPAPIClient) FindPINs(ctx context.Context, ref string) ([]string, error) {
	var list trackingSummaryList
	path := "/vis/track/ref?" + url.Values{"customerRef": {ref}}.Encode()
	if err := c.exchange(ctx, http.MethodGet, path, "application/vnd.cpc.track-v2+xml", nil, &list); err != nil {
		return nil, err
	}
	pins := make([]string, 0, len(list.PIN))
	for _, p := range list.PIN {
		pins = append(pins, p.PIN)
	}
	return pins, nil
}

// exchange sends an optional XML body and decodes the XML response into out.
func (c *HTTPAPIClient) exchange(ctx context.Context, method, path, mediaType string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = xml.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := c.doRequest(ctx, method, path, mediaType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.parseError(resp)
	}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path, mediaType string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Canada Post uses Basic Auth with API key:secret
	credentials := c.apiKey
	if c.apiSecret != "" {
		credentials = c.apiKey + ":" + c.apiSecret
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
	req.Header.Set("Accept-Language", "en-CA")
	req.Header.Set("Accept", mediaType)
	if body != nil {
		req.Header.Set("Content-Type", mediaType)
	}

	return c.httpClient.Do(req)
}

func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var msgs messages
	if err := xml.Unmarshal(body, &msgs); err == nil && len(msgs.Message) > 0 {
		return &APIError{
			Code:        msgs.Message[0].Code,
			Description: msgs.Message[0].Description,
			StatusCode:  resp.StatusCode,
		}
	}

	return &APIError{
		Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Description: string(body),
		StatusCode:  resp.StatusCode,
	}
}

func parcel(weight float64, d Dimensions) parcelCharacteristics {
	p := parcelCharacteristics{Weight: weight}
	if d.Length > 0 {
		p.Dimensions = &xmlDimensions{Length: d.Length, Width: d.Width, Height: d.Height}
	}
	return p
}

func optionsToXML(opts []Option) *xmlOptions {
	if len(opts) == 0 {
		return nil
	}
	out := &xmlOptions{}
	for _, o := range opts {
		out.Option = append(out.Option, xmlOption{Code: o.Code, Amount: o.Amount})
	}
	return out
}

func addressToXML(a Address) xmlAddressDetails {
	return xmlAddressDetails{
		AddressLine1:  a.AddressLine1,
		AddressLine2:  a.AddressLine2,
		City:          a.City,
		ProvState:     a.Province,
		PostalZipCode: normalizePostalCode(a.PostalCode),
		CountryCode:   a.CountryCode,
	}
}

// normalizePostalCode removes spaces from postal codes
func normalizePostalCode(pc string) string {
	return strings.ReplaceAll(strings.ToUpper(pc), " ", "")
}

var _ APIClient = (*HTTPAPIClient)(nil)
