package freightcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

var errPending = errors.New("operation still pending")

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	maxRetries   uint64
	retryBackoff time.Duration
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration // Interval between polling for async operations
	PollTimeout  time.Duration // Max time to wait for async operations
	MaxRetries   uint64        // Retries of idempotent reads on 5xx/429
	RetryBackoff time.Duration // Base of the exponential retry backoff
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	c := &HTTPAPIClient{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		httpClient:   &http.Client{Timeout: orDefault(cfg.Timeout, 30*time.Second)},
		pollInterval: orDefault(cfg.PollInterval, 500*time.Millisecond),
		pollTimeout:  orDefault(cfg.PollTimeout, 30*time.Second),
		maxRetries:   cfg.MaxRetries,
		retryBackoff: orDefault(cfg.RetryBackoff, 100*time.Millisecond),
	}
	if c.maxRetries == 0 {
		c.maxRetries = 2
	}
	return c
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// GetRates fetches shipping rates from the Freightcom API.
// This is an async operation: POST /rate returns a request_id,
// then we poll GET /rate/{request_id} until complete.
func (c *HTTPAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/rate", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var rateReq RateRequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&rateReq); err != nil {
		return nil, fmt.Errorf("failed to decode rate request response: %w", err)
	}

	return c.pollRates(ctx, rateReq.RequestID)
}

// pollRates polls the rate endpoint until results are ready or timeout.
func (c *HTTPAPIClient) pollRates(ctx context.Context, requestID string) (*RatesResponse, error) {
	path := fmt.Sprintf("/rate/%s", url.PathEscape(requestID))
	var result RatesResponse

	err := c.poll(ctx, "Rate request", func(ctx context.Context) (bool, error) {
		result = RatesResponse{}
		if err := c.getJSON(ctx, path, &result); err != nil {
			return false, err
		}
		switch result.Status {
		case "complete":
			return true, nil
		case "pending":
			return false, nil
		case "error":
			return false, &APIError{Code: "RATE_ERROR", Message: result.Error, StatusCode: http.StatusUnprocessableEntity}
		}
		return false, &APIError{
			Code:       "UNKNOWN_STATUS",
			Message:    fmt.Sprintf("Unknown rate status: %s", result.Status),
			StatusCode: http.StatusBadGateway,
		}
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateShipment creates a new shipment via the Freightcom API.
// POST /shipment - may return 202 Accepted for async processing.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/shipment", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, c.parseError(resp)
	}

	var result ShipmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode shipment response: %w", err)
	}

	if result.Status == "pending" || result.Status == "processing" {
		return c.pollShipment(ctx, result.ID)
	}

	return &result, nil
}

// pollShipment polls the shipment endpoint until it's ready.
func (c *HTTPAPIClient) pollShipment(ctx context.Context, shipmentID string) (*ShipmentResponse, error) {
	path := fmt.Sprintf("/shipment/%s", url.PathEscape(shipmentID))
	var result ShipmentResponse

	err := c.poll(ctx, "Shipment creation", func(ctx context.Context) (bool, error) {
		result = ShipmentResponse{}
		if err := c.getJSON(ctx, path, &result); err != nil {
			return false, err
		}
		switch result.Status {
		case "pending", "processing":
			return false, nil
		case "error", "failed":
			return false, &APIError{
				Code:       "SHIPMENT_ERROR",
				Message:    fmt.Sprintf("Shipment failed with status: %s", result.Status),
				StatusCode: http.StatusUnprocessableEntity,
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchShipments looks shipments up by one identifier.
// GET /shipment?tracking_number=...|unique_id=...|recipient_phone=...
func (c *HTTPAPIClient) SearchShipments(ctx context.Context, search ShipmentSearch) ([]ShipmentSummary, error) {
	q := url.Values{}
	switch {
	case search.TrackingNumber != "":
		q.Set("tracking_number", search.TrackingNumber)
	case search.UniqueID != "":
		q.Set("unique_id", search.UniqueID)
	case search.RecipientPhone != "":
		q.Set("recipient_phone", search.RecipientPhone)
	default:
		return nil, &APIError{Code: "INVALID_SEARCH", Message: "empty shipment search", StatusCode: http.StatusBadRequest}
	}

	var result struct {
		Shipments []ShipmentSummary `json:"shipments"`
	}
	if err := c.getJSON(ctx, "/shipment?"+q.Encode(), &result); err != nil {
		return nil, err
	}
	return result.Shipments, nil
}

// GetTracking retrieves tracking information from the Freightcom API.
// GET /shipment/{shipment_id}/tracking-events
func (c *HTTPAPIClient) GetTracking(ctx context.Context, shipmentID string) (*TrackingResponse, error) {
	var result TrackingResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/shipment/%s/tracking-events", url.PathEscape(shipmentID)), &result); err != nil {
		return nil, err
	}
	result.ShipmentID = shipmentID
	return &result, nil
}

// getJSON reads path into out. Reads are idempotent, so 5xx and 429
// answers are retried with exponential backoff.
func (c *HTTPAPIClient) getJSON(ctx context.Context, path string, out any) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.getJSONOnce(ctx, path, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *HTTPAPIClient) getJSONOnce(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// poll calls fetch every poll interval until it reports done, fails, or the
// poll timeout elapses.
func (c *HTTPAPIClient) poll(ctx context.Context, what string, fetch func(ctx context.Context) (bool, error)) error {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	err := retry.Do(pollCtx, retry.NewConstant(c.pollInterval), func(ctx context.Context) error {
		done, err := fetch(ctx)
		if err != nil {
			return err
		}
		if !done {
			return retry.RetryableError(errPending)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil && pollCtx.Err() != nil {
		return &APIError{
			Code:       "TIMEOUT",
			Message:    what + " timed out waiting for results",
			StatusCode: http.StatusGatewayTimeout,
		}
	}
	return err
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey) // Freightcom uses X-API-Key header
	req.Header.Set("User-Agent", "carrierhub/1.0")

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	var simpleErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := string(body)
	if err := json.Unmarshal(body, &simpleErr); err == nil {
		if simpleErr.Error != "" {
			msg = simpleErr.Error
		} else if simpleErr.Message != "" {
			msg = simpleErr.Message
		}
	}

	code := fmt.Sprintf("HTTP_%d", resp.StatusCode)
	if resp.StatusCode == http.StatusNotFound {
		code = "NOT_FOUND"
	}
	return &APIError{
		Code:       code,
		Message:    msg,
		StatusCode: resp.StatusCode,
	}
}

var _ APIClient = (*HTTPAPIClient)(nil)
