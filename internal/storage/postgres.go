package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/merchantrisk?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: postgresDialect}, nil
}

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	encodeTime: func(t time.Time) any {
		return t.UTC()
	},
	schema: []string{
		`CREATE TABLE IF NOT EXISTS merchants (
			merchant_id TEXT PRIMARY KEY,
			business_name TEXT NOT NULL,
			business_type TEXT NOT NULL,
			registration_date TIMESTAMPTZ NOT NULL,
			business_model TEXT NOT NULL,
			product_category TEXT NOT NULL,
			average_ticket_size DOUBLE PRECISION NOT NULL,
			gst_status BOOLEAN NOT NULL,
			epfo_registered BOOLEAN NOT NULL,
			registered_address TEXT NOT NULL,
			city TEXT NOT NULL,
			state TEXT NOT NULL,
			reported_revenue DOUBLE PRECISION NOT NULL,
			employee_count INTEGER NOT NULL,
			bank_account TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			receiver_merchant_id TEXT,
			ts TIMESTAMPTZ NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			payment_method TEXT NOT NULL,
			status TEXT NOT NULL,
			product_category TEXT,
			platform TEXT,
			customer_location TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			velocity_flag BOOLEAN NOT NULL DEFAULT FALSE,
			amount_flag BOOLEAN NOT NULL DEFAULT FALSE,
			time_flag BOOLEAN NOT NULL DEFAULT FALSE,
			device_flag BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_merchant_ts ON transactions(merchant_id, ts)`,
		`CREATE TABLE IF NOT EXISTS risk_metrics (
			id BIGSERIAL PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			lookback_days INTEGER NOT NULL,
			metrics_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_metrics_merchant_ts ON risk_metrics(merchant_id, ts)`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			id BIGSERIAL PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			details_json JSONB NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_events_merchant_ts ON timeline_events(merchant_id, ts)`,
		`CREATE TABLE IF NOT EXISTS transaction_summaries (
			merchant_id TEXT NOT NULL,
			summary_date TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			total_volume DOUBLE PRECISION NOT NULL,
			average_amount DOUBLE PRECISION NOT NULL,
			max_amount DOUBLE PRECISION NOT NULL,
			min_amount DOUBLE PRECISION NOT NULL,
			unique_customers INTEGER NOT NULL,
			unique_payment_methods INTEGER NOT NULL,
			PRIMARY KEY (merchant_id, summary_date)
		)`,
	},
}
