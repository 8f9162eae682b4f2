package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tournevent/carrierhub/pkg/carrier"
)

// MemoryStore is an in-process Store. Orders are copied on the way in and
// out so callers never share memory with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	orders       map[string]*Order
	byWaybill    map[string]string
	reservations map[string]reservation
}

type reservation struct {
	token string
	until time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:       make(map[string]*Order),
		byWaybill:    make(map[string]string),
		reservations: make(map[string]reservation),
	}
}

func (s *MemoryStore) Create(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if o.Waybill != "" {
		if _, ok := s.byWaybill[o.Waybill]; ok {
			return fmt.Errorf("waybill %s already assigned", o.Waybill)
		}
		s.byWaybill[o.Waybill] = o.ID
	}
	cp := clone(o)
	cp.Version = 1
	s.orders[o.ID] = cp
	o.Version = 1
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (s *MemoryStore) FindByWaybill(ctx context.Context, waybill string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byWaybill[waybill]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.orders[id]), nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, id string, version int64, u StateUpdate) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Version != version || o.State.IsTerminal() {
		return nil, ErrConflict
	}

	o.State = u.State
	o.LastRawStatus = u.RawStatus
	if u.DeliveredAt != nil {
		t := *u.DeliveredAt
		o.DeliveredAt = &t
	}
	o.touch()
	return clone(o), nil
}

func (s *MemoryStore) AssignBooking(ctx context.Context, id string, version int64, b Booking) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Waybill != "" {
		return nil, ErrAlreadyBooked
	}
	if o.Version != version {
		return nil, ErrConflict
	}
	if other, taken := s.byWaybill[b.Waybill]; taken && other != id {
		return nil, fmt.Errorf("waybill %s already assigned to order %s", b.Waybill, other)
	}

	o.Carrier = b.Carrier
	o.Waybill = b.Waybill
	o.State = carrier.StateBooked
	s.byWaybill[b.Waybill] = id
	delete(s.reservations, id)
	o.touch()
	return clone(o), nil
}

func (s *MemoryStore) ReserveBooking(ctx context.Context, id, token string, until time.Time) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Waybill != "" {
		return nil, ErrAlreadyBooked
	}
	if r, held := s.reservations[id]; held && r.token != token && time.Now().Before(r.until) {
		return nil, ErrReserved
	}
	s.reservations[id] = reservation{token: token, until: until}
	return clone(o), nil
}

func (s *MemoryStore) ReleaseBooking(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, held := s.reservations[id]; held && r.token == token {
		delete(s.reservations, id)
	}
	return nil
}

func (o *Order) touch() {
	o.Version++
	o.UpdatedAt = time.Now().UTC()
}

func clone(o *Order) *Order {
	cp := *o
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	cp.Shipment.Packages = append([]carrier.Package(nil), o.Shipment.Packages...)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
