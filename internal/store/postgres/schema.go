package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id          BIGSERIAL PRIMARY KEY,
	tag         VARCHAR(3) NOT NULL UNIQUE,
	name        VARCHAR(32) NOT NULL,
	price       NUMERIC NOT NULL CHECK (price >= 1),
	volatility  BIGINT NOT NULL CHECK (volatility >= 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL PRIMARY KEY,
	asset_id    BIGINT NOT NULL,
	tick_id     UUID NOT NULL,
	price       NUMERIC NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	UNIQUE (asset_id, tick_id)
);

CREATE INDEX IF NOT EXISTS price_history_asset_recorded_idx
	ON price_history (asset_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS accounts (
	user_id     TEXT PRIMARY KEY,
	balance     BIGINT NOT NULL CHECK (balance >= 0),
	holdings    JSONB NOT NULL DEFAULT '{}'::jsonb,
	version     BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tick_clock (
	id          BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	last_slot   TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
