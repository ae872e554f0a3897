package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	SaveMerchants(ctx context.Context, merchants []model.Merchant) error
	ListMerchants(ctx context.Context, offset, limit int) ([]model.Merchant, error)
	GetMerchant(ctx context.Context, merchantID string) (model.Merchant, error)

	SaveTransactions(ctx context.Context, txns []model.Transaction) (int, error)
	GetTransaction(ctx context.Context, transactionID string) (model.Transaction, error)
	ListTransactions(ctx context.Context, q TransactionQuery) ([]model.Transaction, error)

	SaveRiskMetrics(ctx context.Context, rm model.RiskMetrics) error
	LatestRiskMetrics(ctx context.Context, merchantID string) (model.RiskMetrics, error)
	RiskMetricsSince(ctx context.Context, merchantID string, since time.Time) ([]model.RiskMetrics, error)

	SaveTimelineEvents(ctx context.Context, events []model.TimelineEvent) error
	ListTimelineEvents(ctx context.Context, q EventQuery) ([]model.TimelineEvent, error)

	SaveSummaries(ctx context.Context, summaries []model.DailySummary) error
	ListSummaries(ctx context.Context, merchantID string, from, to time.Time) ([]model.DailySummary, error)
}

// TransactionQuery selects transactions. Zero From/To leave that side open;
// Limit <= 0 means no limit.
type TransactionQuery struct {
	MerchantID string
	From       time.Time
	To         time.Time
	Offset     int
	Limit      int
}

type EventQuery struct {
	MerchantID string
	From       time.Time
	To         time.Time
	EventType  model.EventType
	Severity   model.Severity
	Limit      int
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// dialect captures what differs between the SQL backends.
type dialect struct {
	name       string
	schema     []string
	numbered   bool
	encodeTime func(time.Time) any
}

type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the pool for connection telemetry.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders as $1..$n for backends that number them.
func (s *sqlStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *sqlStore) ts(t time.Time) any {
	return s.d.encodeTime(t.UTC())
}

// execBatch runs one prepared statement per row inside a transaction.
func (s *sqlStore) execBatch(ctx context.Context, query string, n int, args func(i int) []any) (int, error) {
	if n == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	affected := 0
	for i := 0; i < n; i++ {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if rows, err := res.RowsAffected(); err == nil {
			affected += int(rows)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// timeValue scans timestamps stored either natively or as text.
type timeValue struct {
	t time.Time
}

var textTimeLayouts = []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05", "2006-01-02"}

func (v *timeValue) Scan(src any) error {
	switch x := src.(type) {
	case nil:
		v.t = time.Time{}
		return nil
	case time.Time:
		v.t = x.UTC()
		return nil
	case string:
		return v.parse(x)
	case []byte:
		return v.parse(string(x))
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (v *timeValue) parse(s string) error {
	for _, layout := range textTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func limitClause(offset, limit int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		limit = 1<<31 - 1
	}
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}
