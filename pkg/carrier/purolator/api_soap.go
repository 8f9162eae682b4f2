package purolator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// SOAPAPIClient is the production implementation of APIClient using SOAP/WSDL.
type SOAPAPIClient struct {
	wsdlURL    string
	username   string
	password   string
	httpClient *http.Client
}

// SOAPAPIClientConfig holds configuration for the SOAP client.
type SOAPAPIClientConfig struct {
	WSDLURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// NewSOAPAPIClient creates a new SOAP-based API client for production use.
func NewSOAPAPIClient(cfg SOAPAPIClientConfig) *SOAPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SOAPAPIClient{
		wsdlURL:  cfg.WSDLURL,
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetRates fetches shipping rates from the Purolator EstimatingService.
func (c *SOAPAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	var body soapBody
	if err := c.call(ctx, estimatingService, "GetFullEstimate", ratesTemplate, req, &body); err != nil {
		return nil, err
	}
	if body.GetFullEstimateResponse == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No rate estimates in response"}
	}
	resp := body.GetFullEstimateResponse
	if err := resp.ResponseInformation.err(); err != nil {
		return nil, err
	}

	rates := make([]ShipmentRate, 0, len(resp.ShipmentEstimates))
	for _, est := range resp.ShipmentEstimates {
		rate := ShipmentRate{
			ServiceCode:          est.ServiceID,
			ServiceName:          serviceName(est.ServiceID),
			BasePrice:            parseFloat(est.BasePrice),
			TotalPrice:           parseFloat(est.TotalPrice),
			EstimatedTransitDays: est.EstimatedTransitDays,
		}
		for _, s := range est.Surcharges {
			if s.Type == "COD" {
				rate.CODCharge += parseFloat(s.Amount)
			} else {
				rate.Surcharges += parseFloat(s.Amount)
			}
		}
		for _, t := range est.Taxes {
			rate.Taxes += parseFloat(t.Amount)
		}
		rates = append(rates, rate)
	}
	return &RatesResponse{ShipmentRates: rates}, nil
}

// CreateShipment creates a new shipment via the Purolator ShippingService.
func (c *SOAPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	var body soapBody
	if err := c.call(ctx, shippingService, "CreateShipment", shipmentTemplate, req, &body); err != nil {
		return nil, err
	}
	if body.CreateShipmentResponse == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No shipment in response"}
	}
	resp := body.CreateShipmentResponse
	if err := resp.ResponseInformation.err(); err != nil {
		return nil, err
	}

	out := &ShipmentResponse{
		ShipmentPIN: resp.ShipmentPIN.Value,
		TotalPrice:  parseFloat(resp.TotalPrice),
	}
	if out.ShipmentPIN != "" {
		out.LabelURL = c.wsdlURL + "/EWS/V2/ShippingDocuments/Label/" + out.ShipmentPIN
	}
	return out, nil
}

// GetTracking retrieves tracking info from the Purolator TrackingService.
func (c *SOAPAPIClient) GetTracking(ctx context.Context, trackingPIN string) (*TrackingResponse, error) {
	var body soapBody
	data := struct{ TrackingPIN string }{trackingPIN}
	if err := c.call(ctx, trackingService, "TrackPackagesByPin", trackByPinTemplate, data, &body); err != nil {
		return nil, err
	}
	if body.TrackPackagesByPinResp == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No tracking data in response"}
	}
	return pickTracking(body.TrackPackagesByPinResp, func(info trackingInfo) bool {
		return info.PIN.Value == trackingPIN
	})
}

// GetTrackingByReference retrieves tracking info for a shipper reference.
func (c *SOAPAPIClient) GetTrackingByReference(ctx context.Context, reference string) (*TrackingResponse, error) {
	var body soapBody
	data := struct{ Reference string }{reference}
	if err := c.call(ctx, trackingService, "TrackPackagesByReference", trackByReferenceTemplate, data, &body); err != nil {
		return nil, err
	}
	if body.TrackPackagesByReferenceResp == nil {
		return nil, &APIError{Code: "PARSE_ERROR", Description: "No tracking data in response"}
	}
	return pickTracking(body.TrackPackagesByReferenceResp, func(trackingInfo) bool { return true })
}

// ============================================================================
// SOAP Request Helpers
// ============================================================================

const (
	estimatingService = "/EWS/V2/Estimating/EstimatingService.asmx"
	shippingService   = "/EWS/V2/Shipping/ShippingService.asmx"
	trackingService   = "/PWS/V1/Tracking/TrackingService.asmx"
)

func (c *SOAPAPIClient) call(ctx context.Context, service, action string, tmpl *template.Template, data any, out *soapBody) error {
	payload, err := buildEnvelope(tmpl, data)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.wsdlURL+service, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Purolator uses Basic Auth
	auth := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://purolator.com/pws/service/v2/"+action)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env soapEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{
				Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
				Description: string(raw),
				StatusCode:  resp.StatusCode,
			}
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if env.Body.Fault != nil {
		return &APIError{
			Code:        env.Body.Fault.Code,
			Description: env.Body.Fault.String,
			StatusCode:  resp.StatusCode,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Code:        fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Description: http.StatusText(resp.StatusCode),
			StatusCode:  resp.StatusCode,
		}
	}

	*out = env.Body
	return nil
}

// ============================================================================
// SOAP Request Builders
// ============================================================================

var templateFuncs = template.FuncMap{"x": xmlEscape}

var envelopeTemplate = template.Must(template.New("envelope").Parse(`<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:v2="http://purolator.com/pws/datatypes/v2">
  <soap:Header>
    <v2:RequestContext>
      <v2:Version>2.2</v2:Version>
      <v2:Language>en</v2:Language>
      <v2:GroupID>xxx</v2:GroupID>
      <v2:RequestReference>{{.RequestRef}}</v2:RequestReference>
    </v2:RequestContext>
  </soap:Header>
  <soap:Body>
    {{.Body}}
  </soap:Body>
</soap:Envelope>`))

var ratesTemplate = template.Must(template.New("rates").Funcs(templateFuncs).Parse(`<v2:GetFullEstimateRequest>
      <v2:Shipment>
        <v2:SenderInformation>
          <v2:Address>
            <v2:PostalCode>{{x .SenderPostalCode}}</v2:PostalCode>
            <v2:Country>CA</v2:Country>
          </v2:Address>
        </v2:SenderInformation>
        <v2:ReceiverInformation>
          <v2:Address>
            <v2:City>{{x .ReceiverAddress.City}}</v2:City>
            <v2:Province>{{x .ReceiverAddress.Province}}</v2:Province>
            <v2:PostalCode>{{x .ReceiverAddress.PostalCode}}</v2:PostalCode>
            <v2:Country>{{x .ReceiverAddress.Country}}</v2:Country>
          </v2:Address>
        </v2:ReceiverInformation>
        <v2:PackageInformation>
          <v2:TotalWeight>
            <v2:Value>{{.PackageInformation.TotalWeight.Value}}</v2:Value>
            <v2:WeightUnit>{{.PackageInformation.TotalWeight.Unit}}</v2:WeightUnit>
          </v2:TotalWeight>
          <v2:TotalPieces>{{.PackageInformation.TotalPieces}}</v2:TotalPieces>
          {{- if .CODAmount}}
          <v2:OptionsInformation>
            <v2:Options><v2:OptionIDValuePair><v2:ID>COD</v2:ID><v2:Value>{{x .CODAmount}}</v2:Value></v2:OptionIDValuePair></v2:Options>
          </v2:OptionsInformation>
          {{- end}}
        </v2:PackageInformation>
        <v2:PaymentInformation>
          <v2:PaymentType>Sender</v2:PaymentType>
          <v2:RegisteredAccountNumber>{{x .BillingAccountNumber}}</v2:RegisteredAccountNumber>
        </v2:PaymentInformation>
      </v2:Shipment>
      <v2:ShowAlternativeServicesIndicator>true</v2:ShowAlternativeServicesIndicator>
    </v2:GetFullEstimateRequest>`))

var shipmentTemplate = template.Must(template.New("shipment").Funcs(templateFuncs).Parse(`<v2:CreateShipmentRequest>
      <v2:Shipment>
        <v2:SenderInformation>
          <v2:Address>
            <v2:Name>{{x .Sender.Name}}</v2:Name>
            <v2:Company>{{x .Sender.Company}}</v2:Company>
            <v2:StreetName>{{x .Sender.StreetAddress}}</v2:StreetName>
            <v2:City>{{x .Sender.City}}</v2:City>
            <v2:Province>{{x .Sender.Province}}</v2:Province>
            <v2:PostalCode>{{x .Sender.PostalCode}}</v2:PostalCode>
            <v2:Country>{{x .Sender.Country}}</v2:Country>
            <v2:PhoneNumber><v2:Phone>{{x .Sender.Phone}}</v2:Phone></v2:PhoneNumber>
          </v2:Address>
        </v2:SenderInformation>
        <v2:ReceiverInformation>
          <v2:Address>
            <v2:Name>{{x .Receiver.Name}}</v2:Name>
            <v2:Company>{{x .Receiver.Company}}</v2:Company>
            <v2:StreetName>{{x .Receiver.StreetAddress}}</v2:StreetName>
            <v2:City>{{x .Receiver.City}}</v2:City>
            <v2:Province>{{x .Receiver.Province}}</v2:Province>
            <v2:PostalCode>{{x .Receiver.PostalCode}}</v2:PostalCode>
            <v2:Country>{{x .Receiver.Country}}</v2:Country>
            <v2:PhoneNumber><v2:Phone>{{x .Receiver.Phone}}</v2:Phone></v2:PhoneNumber>
          </v2:Address>
        </v2:ReceiverInformation>
        <v2:PackageInformation>
          <v2:ServiceID>{{x .ServiceCode}}</v2:ServiceID>
          <v2:TotalWeight>
            <v2:Value>{{.PackageInformation.TotalWeight.Value}}</v2:Value>
            <v2:WeightUnit>{{.PackageInformation.TotalWeight.Unit}}</v2:WeightUnit>
          </v2:TotalWeight>
          <v2:TotalPieces>{{.PackageInformation.TotalPieces}}</v2:TotalPieces>
          {{- if .CODAmount}}
          <v2:OptionsInformation>
            <v2:Options><v2:OptionIDValuePair><v2:ID>COD</v2:ID><v2:Value>{{x .CODAmount}}</v2:Value></v2:OptionIDValuePair></v2:Options>
          </v2:OptionsInformation>
          {{- end}}
        </v2:PackageInformation>
        <v2:PaymentInformation>
          <v2:PaymentType>Sender</v2:PaymentType>
          <v2:RegisteredAccountNumber>{{x .BillingAccountNumber}}</v2:RegisteredAccountNumber>
        </v2:PaymentInformation>
        <v2:TrackingReferenceInformation>
          <v2:Reference1>{{x .Reference}}</v2:Reference1>
        </v2:TrackingReferenceInformation>
      </v2:Shipment>
      <v2:PrinterType>{{x .PrinterType}}</v2:PrinterType>
    </v2:CreateShipmentRequest>`))

var trackByPinTemplate = template.Must(template.New("trackPin").Funcs(templateFuncs).Parse(`<v1:TrackPackagesByPinRequest xmlns:v1="http://purolator.com/pws/datatypes/v1">
      <v1:PINs>
        <v1:PIN>
          <v1:Value>{{x .TrackingPIN}}</v1:Value>
        </v1:PIN>
      </v1:PINs>
    </v1:TrackPackagesByPinRequest>`))

var trackByReferenceTemplate = template.Must(template.New("trackRef").Funcs(templateFuncs).Parse(`<v1:TrackPackagesByReferenceRequest xmlns:v1="http://purolator.com/pws/datatypes/v1">
      <v1:TrackingSearchCriteria>
        <v1:searches>
          <v1:Reference>{{x .Reference}}</v1:Reference>
        </v1:searches>
      </v1:TrackingSearchCriteria>
    </v1:TrackPackagesByReferenceRequest>`))

func buildEnvelope(bodyTmpl *template.Template, data any) ([]byte, error) {
	var bodyBuf bytes.Buffer
	if err := bodyTmpl.Execute(&bodyBuf, data); err != nil {
		return nil, err
	}

	envData := struct {
		RequestRef string
		Body       string
	}{
		RequestRef: fmt.Sprintf("req-%d", time.Now().UnixNano()),
		Body:       bodyBuf.String(),
	}

	var envBuf bytes.Buffer
	if err := envelopeTemplate.Execute(&envBuf, envData); err != nil {
		return nil, err
	}
	return envBuf.Bytes(), nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// ============================================================================
// SOAP Response Types
// ============================================================================

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    soapBody `xml:"Body"`
}

type soapBody struct {
	Fault                        *soapFault               `xml:"Fault,omitempty"`
	GetFullEstimateResponse      *getFullEstimateResponse `xml:"GetFullEstimateResponse,omitempty"`
	CreateShipmentResponse       *createShipmentResponse  `xml:"CreateShipmentResponse,omitempty"`
	TrackPackagesByPinResp       *trackPackagesResponse   `xml:"TrackPackagesByPinResponse,omitempty"`
	TrackPackagesByReferenceResp *trackPackagesResponse   `xml:"TrackPackagesByReferenceResponse,omitempty"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type responseInfo struct {
	Errors []responseError `xml:"Errors>Error"`
}

type responseError struct {
	Code        string `xml:"Code"`
	Description string `xml:"Description"`
}

func (r responseInfo) err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	e := r.Errors[0]
	return &APIError{Code: e.Code, Description: e.Description, StatusCode: http.StatusBadRequest}
}

type getFullEstimateResponse struct {
	ResponseInformation responseInfo       `xml:"ResponseInformation"`
	ShipmentEstimates   []shipmentEstimate `xml:"ShipmentEstimates>ShipmentEstimate"`
}

type shipmentEstimate struct {
	ServiceID            string       `xml:"ServiceID"`
	EstimatedTransitDays int          `xml:"EstimatedTransitDays"`
	BasePrice            string       `xml:"BasePrice"`
	Surcharges           []soapAmount `xml:"Surcharges>Surcharge"`
	Taxes                []soapAmount `xml:"Taxes>Tax"`
	TotalPrice           string       `xml:"TotalPrice"`
}

type soapAmount struct {
	Amount string `xml:"Amount"`
	Type   string `xml:"Type"`
}

type createShipmentResponse struct {
	ResponseInformation responseInfo `xml:"ResponseInformation"`
	ShipmentPIN         soapPIN      `xml:"ShipmentPIN"`
	TotalPrice          string       `xml:"TotalPrice"`
}

type soapPIN struct {
	Value string `xml:"Value"`
}

type trackPackagesResponse struct {
	ResponseInformation responseInfo   `xml:"ResponseInformation"`
	TrackingInformation []trackingInfo `xml:"TrackingInformationList>TrackingInformation"`
}

type trackingInfo struct {
	PIN       soapPIN    `xml:"PIN"`
	Reference string     `xml:"Reference1"`
	Scans     []soapScan `xml:"Scans>Scan"`
}

type soapScan struct {
	ScanType    string `xml:"ScanType"`
	ScanDate    string `xml:"ScanDate"`
	ScanTime    string `xml:"ScanTime"`
	Description string `xml:"Description"`
	Depot       struct {
		City     string `xml:"Address>City"`
		Province string `xml:"Address>Province"`
	} `xml:"Depot"`
}

// ============================================================================
// Helper Functions
// ============================================================================

func pickTracking(resp *trackPackagesResponse, match func(trackingInfo) bool) (*TrackingResponse, error) {
	if err := resp.ResponseInformation.err(); err != nil {
		return nil, err
	}

	for _, info := range resp.TrackingInformation {
		if !match(info) {
			continue
		}
		out := &TrackingResponse{
			TrackingPIN: info.PIN.Value,
			Reference:   info.Reference,
			Events:      make([]TrackingEvent, len(info.Scans)),
		}
		for i, scan := range info.Scans {
			location := scan.Depot.City
			if scan.Depot.Province != "" {
				location += ", " + scan.Depot.Province
			}
			out.Events[i] = TrackingEvent{
				Timestamp:   scan.ScanDate + "T" + scan.ScanTime,
				Description: scan.Description,
				Location:    location,
				Type:        scan.ScanType,
			}
		}
		if len(out.Events) > 0 {
			out.Status = out.Events[0].Type
		}
		return out, nil
	}

	return nil, &APIError{
		Code:        "TRACKING_NOT_FOUND",
		Description: "Tracking information not found",
		StatusCode:  http.StatusNotFound,
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func serviceName(serviceID string) string {
	serviceNames := map[string]string{
		"PurolatorExpress":        "Purolator Express",
		"PurolatorExpress9AM":     "Purolator Express 9AM",
		"PurolatorExpress10:30AM": "Purolator Express 10:30AM",
		"PurolatorExpress12PM":    "Purolator Express 12PM",
		"PurolatorExpressEvening": "Purolator Express Evening",
		"PurolatorGround":         "Purolator Ground",
		"PurolatorGround9AM":      "Purolator Ground 9AM",
		"PurolatorGround10:30AM":  "Purolator Ground 10:30AM",
		"PurolatorExpressUS":      "Purolator Express U.S.",
		"PurolatorGroundUS":       "Purolator Ground U.S.",
	}
	if name, ok := serviceNames[serviceID]; ok {
		return name
	}
	return serviceID
}

var _ APIClient = (*SOAPAPIClient)(nil)
