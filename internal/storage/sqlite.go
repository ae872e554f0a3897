package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so text comparison orders instants.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:merchantrisk.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, d: sqliteDialect}, nil
}

var sqliteDialect = dialect{
	name: "sqlite",
	encodeTime: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	},
	schema: []string{
		`CREATE TABLE IF NOT EXISTS merchants (
			merchant_id TEXT PRIMARY KEY,
			business_name TEXT NOT NULL,
			business_type TEXT NOT NULL,
			registration_date TEXT NOT NULL,
			business_model TEXT NOT NULL,
			product_category TEXT NOT NULL,
			average_ticket_size REAL NOT NULL,
			gst_status INTEGER NOT NULL,
			epfo_registered INTEGER NOT NULL,
			registered_address TEXT NOT NULL,
			city TEXT NOT NULL,
			state TEXT NOT NULL,
			reported_revenue REAL NOT NULL,
			employee_count INTEGER NOT NULL,
			bank_account TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			receiver_merchant_id TEXT,
			ts TEXT NOT NULL,
			amount REAL NOT NULL,
			payment_method TEXT NOT NULL,
			status TEXT NOT NULL,
			product_category TEXT,
			platform TEXT,
			customer_location TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			velocity_flag INTEGER NOT NULL DEFAULT 0,
			amount_flag INTEGER NOT NULL DEFAULT 0,
			time_flag INTEGER NOT NULL DEFAULT 0,
			device_flag INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_merchant_ts ON transactions(merchant_id, ts)`,
		`CREATE TABLE IF NOT EXISTS risk_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			merchant_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			lookback_days INTEGER NOT NULL,
			metrics_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_metrics_merchant_ts ON risk_metrics(merchant_id, ts)`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			merchant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			ts TEXT NOT NULL,
			severity TEXT NOT NULL,
			details_json TEXT NOT NULL,
			processed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_events_merchant_ts ON timeline_events(merchant_id, ts)`,
		`CREATE TABLE IF NOT EXISTS transaction_summaries (
			merchant_id TEXT NOT NULL,
			summary_date TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			total_volume REAL NOT NULL,
			average_amount REAL NOT NULL,
			max_amount REAL NOT NULL,
			min_amount REAL NOT NULL,
			unique_customers INTEGER NOT NULL,
			unique_payment_methods INTEGER NOT NULL,
			PRIMARY KEY (merchant_id, summary_date)
		)`,
	},
}
