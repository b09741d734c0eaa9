package db

// migration is one forward-only schema script. Statements use dialect tokens that
// are expanded at apply time: {{id}}, {{ref}}, {{ts}}, {{json}}, {{now}}.
type migration struct {
	version    int
	name       string
	statements []string
}

// migrations is append-only: never edit or reorder an entry once released.
var migrations = []migration{
	{
		version: 1,
		name:    "accounts_identities",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS accounts (
				id {{id}},
				lang VARCHAR(8) NOT NULL DEFAULT 'ja',
				terms_accepted_at {{ts}},
				created_at {{ts}} NOT NULL,
				updated_at {{ts}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS identities (
				id {{id}},
				account_id {{ref}} NOT NULL REFERENCES accounts (id),
				provider VARCHAR(32) NOT NULL,
				provider_user_id VARCHAR(128) NOT NULL,
				created_at {{ts}} NOT NULL,
				last_seen {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_provider_user
				ON identities (provider, provider_user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_identities_account_id ON identities (account_id)`,
		},
	},
	{
		version: 2,
		name:    "plans_entitlements",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS plans (
				id {{id}},
				code VARCHAR(64) NOT NULL,
				credit_quota BIGINT NOT NULL DEFAULT 0,
				period_days INTEGER NOT NULL DEFAULT 30,
				created_at {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_plans_code ON plans (code)`,
			`INSERT INTO plans (code, credit_quota, period_days, created_at)
				VALUES ('free', 3, 30, {{now}})
				ON CONFLICT (code) DO NOTHING`,
			`CREATE TABLE IF NOT EXISTS entitlements (
				id {{id}},
				account_id {{ref}} NOT NULL REFERENCES accounts (id),
				plan_id {{ref}} NOT NULL REFERENCES plans (id),
				credits_used BIGINT NOT NULL DEFAULT 0,
				active_from {{ts}} NOT NULL,
				period_end {{ts}} NOT NULL,
				updated_at {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_account_id ON entitlements (account_id)`,
		},
	},
	{
		version: 3,
		name:    "usage_events_counters",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS usage_events (
				id {{id}},
				request_id VARCHAR(191) NOT NULL,
				account_id {{ref}} NOT NULL REFERENCES accounts (id),
				feature VARCHAR(64) NOT NULL,
				units BIGINT NOT NULL,
				allowed BOOLEAN NOT NULL,
				credits_remaining BIGINT NOT NULL,
				reason VARCHAR(64) NOT NULL DEFAULT '',
				metadata {{json}},
				created_at {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_events_request_id ON usage_events (request_id)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_events_account_created ON usage_events (account_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS usage_counters (
				id {{id}},
				account_id {{ref}} NOT NULL REFERENCES accounts (id),
				name VARCHAR(64) NOT NULL,
				count BIGINT NOT NULL DEFAULT 0,
				window_key VARCHAR(16) NOT NULL,
				window_start {{ts}} NOT NULL,
				window_end {{ts}} NOT NULL,
				updated_at {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_counters_account_name ON usage_counters (account_id, name)`,
		},
	},
	{
		version: 4,
		name:    "wallets",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS wallets (
				account_id {{ref}} PRIMARY KEY REFERENCES accounts (id),
				pass_until {{ts}},
				updated_at {{ts}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS ticket_balances (
				id {{id}},
				account_id {{ref}} NOT NULL REFERENCES accounts (id),
				tier VARCHAR(32) NOT NULL,
				balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
				updated_at {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_ticket_balances_account_tier ON ticket_balances (account_id, tier)`,
			`CREATE TABLE IF NOT EXISTS capability_flags (
				id {{id}},
				account_id {{ref}} NOT NULL REFERENCES accounts (id),
				flag VARCHAR(32) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT FALSE,
				updated_at {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_capability_flags_account_flag ON capability_flags (account_id, flag)`,
		},
	},
	{
		version: 5,
		name:    "payments",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS payments (
				id {{id}},
				account_id {{ref}} NOT NULL REFERENCES accounts (id),
				sku VARCHAR(64) NOT NULL,
				amount BIGINT NOT NULL DEFAULT 0,
				currency VARCHAR(8) NOT NULL,
				external_charge_id VARCHAR(191),
				provider_charge_id VARCHAR(191),
				status VARCHAR(16) NOT NULL,
				refund_id VARCHAR(191),
				refunded_at {{ts}},
				created_at {{ts}} NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_external_charge_id
				ON payments (external_charge_id) WHERE external_charge_id IS NOT NULL`,
			`CREATE INDEX IF NOT EXISTS idx_payments_account_created ON payments (account_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_payments_created_at ON payments (created_at)`,
		},
	},
	{
		version: 6,
		name:    "trail",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS payment_events (
				id {{id}},
				account_id {{ref}} NOT NULL,
				event_type VARCHAR(64) NOT NULL,
				sku VARCHAR(64),
				payload {{json}},
				created_at {{ts}} NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payment_events_account_id ON payment_events (account_id)`,
			`CREATE TABLE IF NOT EXISTS audits (
				id {{id}},
				action VARCHAR(64) NOT NULL,
				actor_account_id {{ref}} NOT NULL,
				target_account_id {{ref}},
				payload {{json}},
				outcome VARCHAR(32) NOT NULL,
				created_at {{ts}} NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audits_action_created ON audits (action, created_at)`,
			`CREATE TABLE IF NOT EXISTS app_events (
				id {{id}},
				event_type VARCHAR(64) NOT NULL,
				account_id {{ref}},
				request_id VARCHAR(191),
				payload {{json}},
				created_at {{ts}} NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_app_events_created_at ON app_events (created_at)`,
			`CREATE TABLE IF NOT EXISTS feedback (
				id {{id}},
				account_id {{ref}} NOT NULL,
				mode VARCHAR(32) NOT NULL,
				text TEXT NOT NULL,
				request_id VARCHAR(191),
				created_at {{ts}} NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback (created_at)`,
		},
	},
}

// RequiredTables lists the tables a fully migrated database must contain.
var RequiredTables = []string{
	"accounts",
	"identities",
	"plans",
	"entitlements",
	"usage_events",
	"usage_counters",
	"wallets",
	"ticket_balances",
	"capability_flags",
	"payments",
	"payment_events",
	"audits",
	"app_events",
	"feedback",
}
