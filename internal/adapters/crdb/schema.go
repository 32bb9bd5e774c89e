package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables used by the repository, the ledger and the outbox.
// The (status, expires_at) index serves the expiration sweep.
const Schema = `
CREATE TABLE IF NOT EXISTS reservations (
	id STRING PRIMARY KEY,
	holder_id STRING NOT NULL,
	vehicle_id STRING NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	start_time STRING,
	end_time STRING,
	rent_amount DECIMAL(12,2) NOT NULL CHECK (rent_amount >= 0),
	status STRING NOT NULL CHECK (status IN ('RESERVED', 'PAID', 'CANCELLED')),
	cancel_reason STRING NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	INDEX reservations_status_expires_idx (status, expires_at),
	INDEX reservations_holder_created_idx (holder_id, created_at DESC)
);
CREATE TABLE IF NOT EXISTS vehicle_inventory (
	vehicle_id STRING PRIMARY KEY,
	total_units INT NOT NULL CHECK (total_units >= 1),
	reserved_units INT NOT NULL DEFAULT 0 CHECK (reserved_units >= 0),
	CONSTRAINT reserved_within_total CHECK (reserved_units <= total_units)
);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id STRING NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key STRING NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	INDEX outbox_status_created_idx (status, created_at)
);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}
