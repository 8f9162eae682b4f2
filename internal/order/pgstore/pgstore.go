// Package pgstore is the Postgres-backed order store.
package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/tournevent/carrierhub/internal/order"
	"github.com/tournevent/carrierhub/pkg/carrier"
)

type Storage struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping checks connectivity for health reporting.
func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping pg")
}

const orderColumns = `id, merchant_id, waybill, carrier, state, last_raw_status,
  delivered_at, shipment, version, created_at, updated_at`

var terminalStates = []string{
	string(carrier.StateDelivered),
	string(carrier.StateRTO),
	string(carrier.StateFailed),
}

func (s *Storage) Create(ctx context.Context, o *order.Order) error {
	shipment, err := json.Marshal(o.Shipment)
	if err != nil {
		return errors.Wrap(err, "encode shipment")
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(ctx, `
INSERT INTO orders (
  id, merchant_id, waybill, carrier, state, last_raw_status,
  delivered_at, shipment, version, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9,$9)
`, o.ID, o.MerchantID, nullable(o.Waybill), nullable(string(o.Carrier)), o.State, o.LastRawStatus,
		o.DeliveredAt, shipment, now)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	o.Version = 1
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

func (s *Storage) Get(ctx context.Context, id string) (*order.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *Storage) FindByWaybill(ctx context.Context, waybill string) (*order.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE waybill = $1`, waybill)
	return scanOrder(row)
}

func (s *Storage) UpdateState(ctx context.Context, id string, version int64, u order.StateUpdate) (*order.Order, error) {
	row := s.db.QueryRow(ctx, `
UPDATE orders
SET state = $3,
    last_raw_status = $4,
    delivered_at = COALESCE($5, delivered_at),
    version = version + 1,
    updated_at = $6
WHERE id = $1 AND version = $2 AND NOT (state = ANY($7))
RETURNING `+orderColumns,
		id, version, u.State, u.RawStatus, u.DeliveredAt, time.Now().UTC(), terminalStates)

	o, err := scanOrder(row)
	if errors.Is(err, order.ErrNotFound) {
		return nil, s.missReason(ctx, id, false)
	}
	return o, err
}

func (s *Storage) AssignBooking(ctx context.Context, id string, version int64, b order.Booking) (*order.Order, error) {
	row := s.db.QueryRow(ctx, `
UPDATE orders
SET waybill = $3,
    carrier = $4,
    state = $5,
    booking_token = NULL,
    booking_until = NULL,
    version = version + 1,
    updated_at = $6
WHERE id = $1 AND version = $2 AND waybill IS NULL
RETURNING `+orderColumns,
		id, version, b.Waybill, b.Carrier, carrier.StateBooked, time.Now().UTC())

	o, err := scanOrder(row)
	if errors.Is(err, order.ErrNotFound) {
		return nil, s.missReason(ctx, id, true)
	}
	return o, err
}

func (s *Storage) ReserveBooking(ctx context.Context, id, token string, until time.Time) (*order.Order, error) {
	row := s.db.QueryRow(ctx, `
UPDATE orders
SET booking_token = $2,
    booking_until = $3
WHERE id = $1
  AND waybill IS NULL
  AND (booking_token IS NULL OR booking_token = $2 OR booking_until < $4)
RETURNING `+orderColumns,
		id, token, until, time.Now().UTC())

	o, err := scanOrder(row)
	if !errors.Is(err, order.ErrNotFound) {
		return o, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsBooked() {
		return nil, order.ErrAlreadyBooked
	}
	return nil, order.ErrReserved
}

func (s *Storage) ReleaseBooking(ctx context.Context, id, token string) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET booking_token = NULL,
    booking_until = NULL
WHERE id = $1 AND booking_token = $2
`, id, token)
	return errors.Wrap(err, "release booking")
}

// missReason explains why a conditional update matched no row.
func (s *Storage) missReason(ctx context.Context, id string, booking bool) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if booking && current.IsBooked() {
		return order.ErrAlreadyBooked
	}
	return order.ErrConflict
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o           order.Order
		waybill     *string
		carrierName *string
		shipment    []byte
	)
	err := row.Scan(
		&o.ID, &o.MerchantID, &waybill, &carrierName, &o.State, &o.LastRawStatus,
		&o.DeliveredAt, &shipment, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}

	if waybill != nil {
		o.Waybill = *waybill
	}
	if carrierName != nil {
		o.Carrier = carrier.Identity(*carrierName)
	}
	if len(shipment) > 0 {
		if err := json.Unmarshal(shipment, &o.Shipment); err != nil {
			return nil, errors.Wrap(err, "decode shipment")
		}
	}
	return &o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ order.Store = (*Storage)(nil)
