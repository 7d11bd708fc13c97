package db

// schema is applied at startup. Uniqueness for subdomain, port, custom_domain
// and customer ownership is scoped to non-deleted instances via partial
// indexes, matching the availability checks in the service layer.
const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id                   UUID PRIMARY KEY,
	email                TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	billing_customer_id  TEXT NOT NULL UNIQUE,
	portal_password      TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                       UUID PRIMARY KEY,
	customer_id              UUID NOT NULL REFERENCES customers(id),
	billing_subscription_id  TEXT NOT NULL UNIQUE,
	billing_price_id         TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL DEFAULT 'active',
	current_period_start     TIMESTAMPTZ,
	current_period_end       TIMESTAMPTZ,
	cancelled_at             TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS instances (
	id                      UUID PRIMARY KEY,
	customer_id             UUID NOT NULL REFERENCES customers(id),
	subdomain               TEXT NOT NULL,
	custom_domain           TEXT NOT NULL DEFAULT '',
	container_id            TEXT NOT NULL DEFAULT '',
	container_name          TEXT NOT NULL DEFAULT '',
	port                    INTEGER NOT NULL DEFAULT 0,
	status                  TEXT NOT NULL DEFAULT 'pending',
	status_message          TEXT NOT NULL DEFAULT '',
	site_name               TEXT NOT NULL DEFAULT 'My Shop',
	admin_email             TEXT NOT NULL,
	admin_password          TEXT NOT NULL,
	secret_key              TEXT NOT NULL,
	welcome_email_sent      BOOLEAN NOT NULL DEFAULT false,
	custom_domain_verified  BOOLEAN NOT NULL DEFAULT false,
	custom_domain_ssl       BOOLEAN NOT NULL DEFAULT false,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_health_check       TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS instances_subdomain_live
	ON instances (subdomain) WHERE status <> 'deleted';
CREATE UNIQUE INDEX IF NOT EXISTS instances_port_live
	ON instances (port) WHERE status <> 'deleted' AND port > 0;
CREATE UNIQUE INDEX IF NOT EXISTS instances_custom_domain_live
	ON instances (custom_domain) WHERE status <> 'deleted' AND custom_domain <> '';
CREATE UNIQUE INDEX IF NOT EXISTS instances_customer_live
	ON instances (customer_id) WHERE status <> 'deleted';

CREATE TABLE IF NOT EXISTS audit_logs (
	id           UUID PRIMARY KEY,
	instance_id  UUID REFERENCES instances(id),
	action       TEXT NOT NULL,
	message      TEXT NOT NULL,
	details      JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS audit_logs_instance
	ON audit_logs (instance_id, created_at DESC);
`
