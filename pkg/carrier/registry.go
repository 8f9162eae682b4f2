package carrier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCallTimeout bounds a single carrier call when no timeout is configured.
const DefaultCallTimeout = 10 * time.Second

// Operation names passed to a CallObserver.
const (
	OpLookup = "lookup"
	OpQuote  = "quote"
	OpBook   = "book"
)

// CallObserver is notified after every carrier call settles.
type CallObserver func(op string, id Identity, elapsed time.Duration, err error)

// LookupOutcome is the settled result of one carrier's tracking lookup.
// Exactly one of Result and Err is set.
type LookupOutcome struct {
	Carrier  Identity
	Result   *ProviderResult
	Err      error
	Duration time.Duration
}

// QuoteOutcome is the settled result of one carrier's quote.
type QuoteOutcome struct {
	Carrier  Identity
	Options  []ServiceOption
	Err      error
	Duration time.Duration
}

// Registry holds the registered carrier clients in priority order.
type Registry struct {
	clients        map[Identity]Client
	order          []Identity
	timeouts       map[Identity]time.Duration
	defaultTimeout time.Duration
	observer       CallObserver
	mu             sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultTimeout sets the per-call timeout used for carriers without their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithObserver registers a callback invoked after every carrier call.
func WithObserver(fn CallObserver) Option {
	return func(r *Registry) {
		r.observer = fn
	}
}

// NewRegistry creates a new carrier registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clients:        make(map[Identity]Client),
		timeouts:       make(map[Identity]time.Duration),
		defaultTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a client to the registry. Clients registered earlier have
// higher priority. Registering an identity again replaces the client but
// keeps its position.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.Name()]; !ok {
		r.order = append(r.order, c.Name())
	}
	r.clients[c.Name()] = c
}

// SetTimeout overrides the per-call timeout for one carrier.
func (r *Registry) SetTimeout(id Identity, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d <= 0 {
		delete(r.timeouts, id)
		return
	}
	r.timeouts[id] = d
}

// TimeoutFor returns the per-call timeout applied to a carrier.
func (r *Registry) TimeoutFor(id Identity) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.timeouts[id]; ok {
		return d
	}
	return r.defaultTimeout
}

// SetPriority reorders the registry. Listed carriers come first in the given
// order, unlisted ones keep their relative order after them.
func (r *Registry) SetPriority(ids []Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Identity, 0, len(r.order))
	placed := make(map[Identity]bool)
	for _, id := range ids {
		if _, ok := r.clients[id]; ok && !placed[id] {
			next = append(next, id)
			placed[id] = true
		}
	}
	for _, id := range r.order {
		if !placed[id] {
			next = append(next, id)
		}
	}
	r.order = next
}

// Get returns a client by identity.
func (r *Registry) Get(id Identity) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCarrierNotRegistered, id)
}

// All returns all registered clients in priority order.
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Client, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.clients[id])
	}
	return result
}

// Names returns the identities of all registered clients in priority order.
func (r *Registry) Names() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Identity(nil), r.order...)
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// subset returns the registered clients among only, in priority order.
// An empty filter selects every client.
func (r *Registry) subset(only []Identity) []Client {
	all := r.All()
	if len(only) == 0 {
		return all
	}
	want := make(map[Identity]bool, len(only))
	for _, id := range only {
		want[id] = true
	}
	result := make([]Client, 0, len(only))
	for _, c := range all {
		if want[c.Name()] {
			result = append(result, c)
		}
	}
	return result
}

// LookupAll sends the query to every selected carrier concurrently and waits
// for all of them to settle. Outcomes are returned in priority order. A
// carrier that errors, times out, panics or answers without status data gets
// an outcome with Err set; it never affects the other carriers.
func (r *Registry) LookupAll(ctx context.Context, q Query, only ...Identity) []LookupOutcome {
	clients := r.subset(only)
	outcomes := make([]LookupOutcome, len(clients))

	var g errgroup.Group
	for i, c := range clients {
		g.Go(func() error {
			outcomes[i] = r.lookup(ctx, c, q)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (r *Registry) lookup(ctx context.Context, c Client, q Query) LookupOutcome {
	id := c.Name()
	start := time.Now()
	res, err := invoke(ctx, r.TimeoutFor(id), id, func(ctx context.Context) (*ProviderResult, error) {
		return c.Lookup(ctx, q)
	})
	out := LookupOutcome{Carrier: id, Duration: time.Since(start)}
	switch {
	case err != nil:
		out.Err = Classify(id, err)
	case !res.Recognizable():
		out.Err = fmt.Errorf("%s: %w", id, ErrEmptyResult)
	default:
		res.Carrier = id
		out.Result = res
	}
	r.observe(OpLookup, id, out.Duration, out.Err)
	return out
}

// QuoteAll asks every carrier eligible for the shipment for service options,
// concurrently, and waits for all of them to settle. Options are tagged with
// the carrier that returned them.
func (r *Registry) QuoteAll(ctx context.Context, s *Shipment) []QuoteOutcome {
	var clients []Client
	for _, c := range r.All() {
		if ec, ok := c.(EligibilityChecker); ok && !ec.Serves(s) {
			continue
		}
		clients = append(clients, c)
	}
	outcomes := make([]QuoteOutcome, len(clients))

	var g errgroup.Group
	for i, c := range clients {
		g.Go(func() error {
			id := c.Name()
			start := time.Now()
			opts, err := invoke(ctx, r.TimeoutFor(id), id, func(ctx context.Context) ([]ServiceOption, error) {
				return c.Quote(ctx, s)
			})
			out := QuoteOutcome{Carrier: id, Duration: time.Since(start)}
			if err != nil {
				out.Err = Classify(id, err)
			} else {
				for j := range opts {
					opts[j].Carrier = id
				}
				out.Options = opts
			}
			r.observe(OpQuote, id, out.Duration, out.Err)
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Book books the shipment with the option's carrier under that carrier's
// call timeout. Errors are classified into ErrCarrierRejected or ErrTransient.
func (r *Registry) Book(ctx context.Context, s *Shipment, opt ServiceOption) (*BookingResult, error) {
	c, err := r.Get(opt.Carrier)
	if err != nil {
		return nil, err
	}
	id := c.Name()
	start := time.Now()
	res, err := invoke(ctx, r.TimeoutFor(id), id, func(ctx context.Context) (*BookingResult, error) {
		return c.Book(ctx, s, opt)
	})
	if err == nil && (res == nil || res.Waybill == "") {
		err = NewCarrierError(id, CodeUnknown, "booking confirmed without a waybill").WithRetryable(true)
	}
	err = Classify(id, err)
	r.observe(OpBook, id, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	res.Carrier = id
	return res, nil
}

func (r *Registry) observe(op string, id Identity, elapsed time.Duration, err error) {
	if r.observer != nil {
		r.observer(op, id, elapsed, err)
	}
}

// invoke runs fn under a timeout. It returns when fn does or when the timeout
// fires, whichever is first, so a client that ignores its context cannot hold
// up the caller.
func invoke[T any](ctx context.Context, timeout time.Duration, id Identity, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		v   T
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				var zero T
				ch <- reply{zero, NewCarrierError(id, CodeUnknown, fmt.Sprintf("panic: %v", p)).WithRetryable(true)}
			}
		}()
		v, err := fn(callCtx)
		ch <- reply{v, err}
	}()

	select {
	case rep := <-ch:
		return rep.v, rep.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}
