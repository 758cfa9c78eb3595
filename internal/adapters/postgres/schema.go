package postgres

// Schema is the system-of-record DDL. Tests apply it to a fresh container;
// deployments run it through their migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	host_id UUID NOT NULL,
	capacity INT NOT NULL,
	seats_reserved INT NOT NULL DEFAULT 0,
	confirmed_count INT NOT NULL DEFAULT 0,
	CHECK (seats_reserved >= 0),
	CHECK (seats_reserved <= capacity)
);

CREATE TABLE IF NOT EXISTS capacity_reservations (
	key TEXT PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	buyer_id UUID NOT NULL,
	seats INT NOT NULL CHECK (seats > 0),
	consumed BOOL NOT NULL DEFAULT FALSE,
	released BOOL NOT NULL DEFAULT FALSE,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_orders (
	id UUID PRIMARY KEY,
	ref TEXT NOT NULL UNIQUE,
	buyer_id UUID NOT NULL,
	event_id UUID NOT NULL REFERENCES events (id),
	seats INT NOT NULL CHECK (seats > 0),
	currency TEXT NOT NULL,
	amount NUMERIC(12,2) NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('CREATED','PENDING','PAID','FAILED','EXPIRED','REFUNDED')),
	base_price_per_seat NUMERIC(12,2) NOT NULL,
	platform_fee_percent NUMERIC(5,2) NOT NULL,
	platform_fee_amount NUMERIC(12,2) NOT NULL,
	host_earning_per_seat NUMERIC(12,2) NOT NULL,
	provider TEXT NOT NULL,
	provider_payment_id TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	reservation_key TEXT NOT NULL REFERENCES capacity_reservations (key),
	parent_id UUID,
	root_id UUID NOT NULL,
	is_final BOOL NOT NULL DEFAULT FALSE,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS payment_orders_buyer_event ON payment_orders (buyer_id, event_id, created_at DESC);
CREATE INDEX IF NOT EXISTS payment_orders_root ON payment_orders (root_id);

CREATE TABLE IF NOT EXISTS payment_transactions (
	id UUID PRIMARY KEY,
	order_id UUID NOT NULL,
	kind TEXT NOT NULL,
	payload JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attendees (
	event_id UUID NOT NULL REFERENCES events (id),
	buyer_id UUID NOT NULL,
	order_id UUID NOT NULL,
	seats INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, buyer_id)
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'NEW',
	dedupe_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
`
