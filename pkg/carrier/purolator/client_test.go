package purolator_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/govalues/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/carrierhub/pkg/carrier"
	"github.com/tournevent/carrierhub/pkg/carrier/purolator"
	"github.com/tournevent/carrierhub/pkg/carrier/status"
)

func newTestClient(api purolator.APIClient) *purolator.Client {
	return purolator.NewWithAPIClient(purolator.Config{AccountNumber: "9999999999", MaxWeightKG: 68},
		api, otelzap.New(zap.NewNop()), nil)
}

func testShipment() *carrier.Shipment {
	return &carrier.Shipment{
		Reference:   "ORD-3003",
		Origin:      carrier.Address{Name: "Sender", Line1: "100 King St", City: "Toronto", ProvinceCode: "ON", PostalCode: "M5H 1A1", CountryCode: "CA"},
		Destination: carrier.Address{Name: "Receiver", Line1: "200 Main St", City: "Winnipeg", ProvinceCode: "MB", PostalCode: "R3C 1A1", CountryCode: "CA"},
		Packages: []carrier.Package{
			{Length: 30, Width: 20, Height: 10, DimensionUnit: carrier.DimensionCM, Weight: 4, WeightUnit: carrier.WeightKG},
			{Length: 30, Width: 20, Height: 10, DimensionUnit: carrier.DimensionCM, Weight: 2, WeightUnit: carrier.WeightKG},
		},
	}
}

func newMapper() *status.Mapper {
	m := status.NewMapper(nil)
	m.Register(carrier.Purolator, purolator.StatusTable())
	return m
}

func TestClient_Quote_COD(t *testing.T) {
	client := newTestClient(purolator.NewMockAPIClient())
	s := testShipment()
	s.CODAmount = decimal.MustNew(12000, 2)

	opts, err := client.Quote(context.Background(), s)

	require.NoError(t, err)
	require.Len(t, opts, 3)
	assert.Equal(t, carrier.Purolator, opts[0].Carrier)
	assert.Equal(t, "21.20", opts[0].Freight.String())
	assert.Equal(t, "7.25", opts[0].CODCharge.String())
	assert.Equal(t, "28.45", opts[0].Total.String())
}

func TestClient_BookAndTrack(t *testing.T) {
	client := newTestClient(purolator.NewMockAPIClient())
	ctx := context.Background()

	booking, err := client.Book(ctx, testShipment(), carrier.ServiceOption{ServiceID: "PurolatorGround"})
	require.NoError(t, err)
	assert.Equal(t, "21.20", booking.Charged.String())

	byPIN, err := client.Lookup(ctx, carrier.Query{Waybill: booking.Waybill})
	require.NoError(t, err)
	state, _ := newMapper().MapResult(byPIN)
	assert.Equal(t, carrier.StateBooked, state)

	byRef, err := client.Lookup(ctx, carrier.Query{OrderID: "ORD-3003"})
	require.NoError(t, err)
	assert.Equal(t, booking.Waybill, byRef.Waybill)
}

func TestClient_Lookup_ReturnToSender(t *testing.T) {
	api := purolator.NewMockAPIClient()
	api.AddTracking(&purolator.TrackingResponse{
		TrackingPIN: "329000001",
		Status:      "ReturnToSender",
		Events: []purolator.TrackingEvent{
			{Timestamp: "2024-05-06T101500", Description: "Return to sender - refused", Location: "Winnipeg, MB", Type: "ReturnToSender"},
			{Timestamp: "2024-05-05T083000", Description: "On vehicle for delivery", Location: "Winnipeg, MB", Type: "OnDelivery"},
		},
	})

	res, err := newTestClient(api).Lookup(context.Background(), carrier.Query{Waybill: "329000001"})

	require.NoError(t, err)
	assert.Equal(t, 2024, res.RawEvents[0].Timestamp.Year())
	state, matched := newMapper().MapResult(res)
	assert.True(t, matched)
	assert.Equal(t, carrier.StateRTO, state)
	assert.True(t, state.IsTerminal())
}

func TestClient_Lookup_Errors(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(purolator.NewMockAPIClient())

	_, err := client.Lookup(ctx, carrier.Query{Waybill: "nope"})
	assert.True(t, errors.Is(err, carrier.ErrCarrierRejected))

	_, err = client.Lookup(ctx, carrier.Query{Phone: "4165550100"})
	assert.True(t, errors.Is(err, carrier.ErrUnsupportedQuery))

	failing := purolator.NewMockAPIClient()
	failing.SimulateErrors = true
	_, err = newTestClient(failing).Quote(ctx, testShipment())
	assert.True(t, errors.Is(err, carrier.ErrTransient))
}

func TestSOAPAPIClient_GetTracking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/PWS/V1/Tracking/TrackingService.asmx", r.URL.Path)
		assert.Contains(t, r.Header.Get("SOAPAction"), "TrackPackagesByPin")
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<v1:Value>329&amp;1</v1:Value>")
		_, _ = w.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<TrackPackagesByPinResponse><TrackingInformationList><TrackingInformation>
  <PIN><Value>329&amp;1</Value></PIN>
  <Scans>
    <Scan><ScanType>Delivered</ScanType><ScanDate>2024-05-07</ScanDate><ScanTime>141000</ScanTime><Description>Shipment delivered to front door</Description><Depot><Address><City>Winnipeg</City><Province>MB</Province></Address></Depot></Scan>
    <Scan><ScanType>OnDelivery</ScanType><ScanDate>2024-05-07</ScanDate><ScanTime>081000</ScanTime><Description>On vehicle for delivery</Description></Scan>
  </Scans>
</TrackingInformation></TrackingInformationList></TrackPackagesByPinResponse>
</soap:Body></soap:Envelope>`))
	}))
	defer srv.Close()

	api := purolator.NewSOAPAPIClient(purolator.SOAPAPIClientConfig{WSDLURL: srv.URL, Username: "u", Password: "p"})
	tr, err := api.GetTracking(context.Background(), "329&1")

	require.NoError(t, err)
	assert.Equal(t, "Delivered", tr.Status)
	require.Len(t, tr.Events, 2)
	assert.Equal(t, "Winnipeg, MB", tr.Events[0].Location)

	res, err := newTestClient(api).Lookup(context.Background(), carrier.Query{Waybill: "329&1"})
	require.NoError(t, err)
	state, _ := newMapper().MapResult(res)
	assert.Equal(t, carrier.StateDelivered, state)
}

func TestSOAPAPIClient_Fault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><soap:Fault><faultcode>soap:Server</faultcode><faultstring>Service unavailable</faultstring></soap:Fault></soap:Body></soap:Envelope>`))
	}))
	defer srv.Close()

	client := newTestClient(purolator.NewSOAPAPIClient(purolator.SOAPAPIClientConfig{WSDLURL: srv.URL}))
	_, err := client.Quote(context.Background(), testShipment())

	require.Error(t, err)
	assert.True(t, errors.Is(err, carrier.ErrTransient))
	assert.True(t, strings.Contains(err.Error(), "Service unavailable"))
}

func TestSOAPAPIClient_ResponseErrorIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<GetFullEstimateResponse><ResponseInformation><Errors><Error><Code>1100541</Code><Description>Invalid postal code</Description></Error></Errors></ResponseInformation></GetFullEstimateResponse>
</soap:Body></soap:Envelope>`))
	}))
	defer srv.Close()

	client := newTestClient(purolator.NewSOAPAPIClient(purolator.SOAPAPIClientConfig{WSDLURL: srv.URL}))
	_, err := client.Quote(context.Background(), testShipment())

	assert.True(t, errors.Is(err, carrier.ErrCarrierRejected))
}
