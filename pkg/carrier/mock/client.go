// Package mock provides a programmable carrier client for testing.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

// Client is a mock carrier. Behaviour is canned unless overridden with options.
type Client struct {
	name    carrier.Identity
	latency time.Duration

	lookupFn func(ctx context.Context, q carrier.Query) (*carrier.ProviderResult, error)
	quoteFn  func(ctx context.Context, s *carrier.Shipment) ([]carrier.ServiceOption, error)
	bookFn   func(ctx context.Context, s *carrier.Shipment, opt carrier.ServiceOption) (*carrier.BookingResult, error)
	servesFn func(s *carrier.Shipment) bool

	lookups  atomic.Int64
	quotes   atomic.Int64
	bookings atomic.Int64
}

// Option customises a mock client.
type Option func(*Client)

// WithLatency delays every call. The delay honours context cancellation.
func WithLatency(d time.Duration) Option {
	return func(c *Client) { c.latency = d }
}

// WithLookup replaces the lookup behaviour.
func WithLookup(fn func(ctx context.Context, q carrier.Query) (*carrier.ProviderResult, error)) Option {
	return func(c *Client) { c.lookupFn = fn }
}

// WithLookupResult makes every lookup succeed with the given raw status and events.
func WithLookupResult(rawStatus string, events ...carrier.RawEvent) Option {
	return WithLookup(func(_ context.Context, q carrier.Query) (*carrier.ProviderResult, error) {
		return &carrier.ProviderResult{
			Waybill:   q.Waybill,
			RawStatus: rawStatus,
			RawEvents: events,
			Payload:   []byte(fmt.Sprintf(`{"status":%q}`, rawStatus)),
		}, nil
	})
}

// WithLookupError makes every lookup fail with err.
func WithLookupError(err error) Option {
	return WithLookup(func(context.Context, carrier.Query) (*carrier.ProviderResult, error) {
		return nil, err
	})
}

// WithQuote replaces the quote behaviour.
func WithQuote(fn func(ctx context.Context, s *carrier.Shipment) ([]carrier.ServiceOption, error)) Option {
	return func(c *Client) { c.quoteFn = fn }
}

// WithQuoteError makes every quote fail with err.
func WithQuoteError(err error) Option {
	return WithQuote(func(context.Context, *carrier.Shipment) ([]carrier.ServiceOption, error) {
		return nil, err
	})
}

// WithBook replaces the booking behaviour.
func WithBook(fn func(ctx context.Context, s *carrier.Shipment, opt carrier.ServiceOption) (*carrier.BookingResult, error)) Option {
	return func(c *Client) { c.bookFn = fn }
}

// WithBookError makes every booking fail with err.
func WithBookError(err error) Option {
	return WithBook(func(context.Context, *carrier.Shipment, carrier.ServiceOption) (*carrier.BookingResult, error) {
		return nil, err
	})
}

// WithServes restricts which shipments the mock is eligible for.
func WithServes(fn func(s *carrier.Shipment) bool) Option {
	return func(c *Client) { c.servesFn = fn }
}

// New creates a new mock carrier.
func New(name carrier.Identity, opts ...Option) *Client {
	c := &Client{name: name}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the carrier identity.
func (c *Client) Name() carrier.Identity {
	return c.name
}

// Serves implements carrier.EligibilityChecker.
func (c *Client) Serves(s *carrier.Shipment) bool {
	if c.servesFn == nil {
		return true
	}
	return c.servesFn(s)
}

// Lookup returns an in-transit result unless overridden.
func (c *Client) Lookup(ctx context.Context, q carrier.Query) (*carrier.ProviderResult, error) {
	c.lookups.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.lookupFn != nil {
		return c.lookupFn(ctx, q)
	}
	now := time.Now().UTC()
	return &carrier.ProviderResult{
		Waybill:   q.Waybill,
		RawStatus: "IN_TRANSIT",
		RawEvents: []carrier.RawEvent{
			{Timestamp: now.Add(-24 * time.Hour), Code: "PICKED_UP", Description: "Picked up", Location: "Toronto, ON"},
			{Timestamp: now, Code: "IN_TRANSIT", Description: "In transit", Location: "Montreal, QC"},
		},
		Payload: []byte(`{"status":"IN_TRANSIT"}`),
	}, nil
}

// Quote returns a standard and an express option unless overridden.
func (c *Client) Quote(ctx context.Context, s *carrier.Shipment) ([]carrier.ServiceOption, error) {
	c.quotes.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.quoteFn != nil {
		return c.quoteFn(ctx, s)
	}

	cod := decimal.Decimal{}
	if s.IsCOD() {
		cod = decimal.MustNew(450, 2)
	}
	standard, err := carrier.NewServiceOption(c.name, "STANDARD", fmt.Sprintf("%s Standard", c.name), decimal.MustNew(1582, 2), cod, "CAD", 5)
	if err != nil {
		return nil, err
	}
	express, err := carrier.NewServiceOption(c.name, "EXPRESS", fmt.Sprintf("%s Express", c.name), decimal.MustNew(2995, 2), cod, "CAD", 2)
	if err != nil {
		return nil, err
	}
	return []carrier.ServiceOption{standard, express}, nil
}

// Book returns a confirmation with a random waybill unless overridden.
func (c *Client) Book(ctx context.Context, s *carrier.Shipment, opt carrier.ServiceOption) (*carrier.BookingResult, error) {
	c.bookings.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.bookFn != nil {
		return c.bookFn(ctx, s, opt)
	}
	waybill := strings.ToUpper(string(c.name[:3])) + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return &carrier.BookingResult{
		Carrier:     c.name,
		Waybill:     waybill,
		ShipmentID:  uuid.NewString(),
		ServiceID:   opt.ServiceID,
		Charged:     opt.Total,
		Currency:    opt.Currency,
		TrackingURL: fmt.Sprintf("https://track.%s.mock/track/%s", c.name, waybill),
	}, nil
}

// LookupCalls returns how many times Lookup was called.
func (c *Client) LookupCalls() int { return int(c.lookups.Load()) }

// QuoteCalls returns how many times Quote was called.
func (c *Client) QuoteCalls() int { return int(c.quotes.Load()) }

// BookCalls returns how many times Book was called.
func (c *Client) BookCalls() int { return int(c.bookings.Load()) }

func (c *Client) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	_ carrier.Client             = (*Client)(nil)
	_ carrier.EligibilityChecker = (*Client)(nil)
)
