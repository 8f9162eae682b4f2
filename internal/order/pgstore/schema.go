package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  merchant_id TEXT NOT NULL,
  waybill TEXT NULL UNIQUE,
  carrier TEXT NULL,
  state TEXT NOT NULL,
  last_raw_status TEXT NOT NULL DEFAULT '',
  delivered_at TIMESTAMPTZ NULL,
  shipment JSONB NOT NULL,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  CHECK ((waybill IS NULL) = (carrier IS NULL))
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_merchant_id ON orders(merchant_id)`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS booking_token TEXT NULL`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS booking_until TIMESTAMPTZ NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
