package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"merchantrisk/internal/model"
)

const dateLayout = "2006-01-02"

const merchantColumns = `merchant_id, business_name, business_type, registration_date, business_model,
	product_category, average_ticket_size, gst_status, epfo_registered, registered_address,
	city, state, reported_revenue, employee_count, bank_account`

const transactionColumns = `transaction_id, merchant_id, receiver_merchant_id, ts, amount, payment_method,
	status, product_category, platform, customer_location, customer_id, device_id,
	velocity_flag, amount_flag, time_flag, device_flag`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *sqlStore) SaveMerchants(ctx context.Context, merchants []model.Merchant) error {
	_, err := s.execBatch(ctx,
		`INSERT INTO merchants (`+merchantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (merchant_id) DO NOTHING`,
		len(merchants),
		func(i int) []any {
			m := merchants[i]
			return []any{
				m.MerchantID, m.BusinessName, m.BusinessType, s.ts(m.RegistrationDate), string(m.BusinessModel),
				m.ProductCategory, m.AverageTicketSize, m.GSTStatus, m.EPFORegistered, m.RegisteredAddress,
				m.City, m.State, m.ReportedRevenue, m.EmployeeCount, m.BankAccount,
			}
		})
	return err
}

func scanMerchant(row rowScanner) (model.Merchant, error) {
	var m model.Merchant
	var reg timeValue
	var bm string
	err := row.Scan(&m.MerchantID, &m.BusinessName, &m.BusinessType, &reg, &bm,
		&m.ProductCategory, &m.AverageTicketSize, &m.GSTStatus, &m.EPFORegistered, &m.RegisteredAddress,
		&m.City, &m.State, &m.ReportedRevenue, &m.EmployeeCount, &m.BankAccount)
	m.RegistrationDate = reg.t
	m.BusinessModel = model.BusinessModel(bm)
	return m, err
}

func (s *sqlStore) ListMerchants(ctx context.Context, offset, limit int) ([]model.Merchant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+merchantColumns+` FROM merchants ORDER BY merchant_id`+limitClause(offset, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Merchant, 0)
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetMerchant(ctx context.Context, merchantID string) (model.Merchant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+merchantColumns+` FROM merchants WHERE merchant_id = ?`), merchantID)
	m, err := scanMerchant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Merchant{}, ErrNotFound
	}
	return m, err
}

// SaveTransactions inserts new transactions and skips ids already stored. It
// returns the number of rows inserted.
func (s *sqlStore) SaveTransactions(ctx context.Context, txns []model.Transaction) (int, error) {
	return s.execBatch(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		len(txns),
		func(i int) []any {
			t := txns[i]
			return []any{
				t.TransactionID, t.MerchantID, t.ReceiverMerchantID, s.ts(t.Timestamp), t.Amount, t.PaymentMethod,
				string(t.Status), t.ProductCategory, t.Platform, t.CustomerLocation, t.CustomerID, t.DeviceID,
				t.VelocityFlag, t.AmountFlag, t.TimeFlag, t.DeviceFlag,
			}
		})
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var t model.Transaction
	var ts timeValue
	var receiver, category, platform sql.NullString
	var status string
	err := row.Scan(&t.TransactionID, &t.MerchantID, &receiver, &ts, &t.Amount, &t.PaymentMethod,
		&status, &category, &platform, &t.CustomerLocation, &t.CustomerID, &t.DeviceID,
		&t.VelocityFlag, &t.AmountFlag, &t.TimeFlag, &t.DeviceFlag)
	t.Timestamp = ts.t
	t.ReceiverMerchantID = receiver.String
	t.ProductCategory = category.String
	t.Platform = platform.String
	t.Status = model.TransactionStatus(status)
	return t, err
}

func (s *sqlStore) GetTransaction(ctx context.Context, transactionID string) (model.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+transactionColumns+` FROM transactions WHERE transaction_id = ?`), transactionID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Transaction{}, ErrNotFound
	}
	return t, err
}

func (s *sqlStore) ListTransactions(ctx context.Context, q TransactionQuery) ([]model.Transaction, error) {
	var w whereBuilder
	if q.MerchantID != "" {
		w.add("merchant_id = ?", q.MerchantID)
	}
	if !q.From.IsZero() {
		w.add("ts >= ?", s.ts(q.From))
	}
	if !q.To.IsZero() {
		w.add("ts <= ?", s.ts(q.To))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions` + w.String() +
		` ORDER BY ts, transaction_id` + limitClause(q.Offset, q.Limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveRiskMetrics(ctx context.Context, rm model.RiskMetrics) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO risk_metrics (merchant_id, ts, lookback_days, metrics_json) VALUES (?, ?, ?, ?)`),
		rm.MerchantID, s.ts(rm.Timestamp), rm.LookbackDays, encodeJSON(rm.Scores))
	return err
}

func scanRiskMetrics(row rowScanner) (model.RiskMetrics, error) {
	var rm model.RiskMetrics
	var ts timeValue
	var raw []byte
	if err := row.Scan(&rm.MerchantID, &ts, &rm.LookbackDays, &raw); err != nil {
		return model.RiskMetrics{}, err
	}
	rm.Timestamp = ts.t
	if err := json.Unmarshal(raw, &rm.Scores); err != nil {
		return model.RiskMetrics{}, err
	}
	return rm, nil
}

func (s *sqlStore) LatestRiskMetrics(ctx context.Context, merchantID string) (model.RiskMetrics, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT merchant_id, ts, lookback_days, metrics_json FROM risk_metrics
		WHERE merchant_id = ? ORDER BY ts DESC, id DESC LIMIT 1`), merchantID)
	rm, err := scanRiskMetrics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RiskMetrics{}, ErrNotFound
	}
	return rm, err
}

func (s *sqlStore) RiskMetricsSince(ctx context.Context, merchantID string, since time.Time) ([]model.RiskMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT merchant_id, ts, lookback_days, metrics_json FROM risk_metrics
		WHERE merchant_id = ? AND ts >= ? ORDER BY ts, id`), merchantID, s.ts(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.RiskMetrics, 0)
	for rows.Next() {
		rm, err := scanRiskMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveTimelineEvents(ctx context.Context, events []model.TimelineEvent) error {
	created := s.ts(time.Now())
	_, err := s.execBatch(ctx,
		`INSERT INTO timeline_events (merchant_id, event_type, ts, severity, details_json, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(events),
		func(i int) []any {
			ev := events[i]
			return []any{ev.MerchantID, string(ev.EventType), s.ts(ev.Timestamp), string(ev.Severity), encodeJSON(ev.Details), false, created}
		})
	return err
}

func (s *sqlStore) ListTimelineEvents(ctx context.Context, q EventQuery) ([]model.TimelineEvent, error) {
	var w whereBuilder
	if q.MerchantID != "" {
		w.add("merchant_id = ?", q.MerchantID)
	}
	if !q.From.IsZero() {
		w.add("ts >= ?", s.ts(q.From))
	}
	if !q.To.IsZero() {
		w.add("ts <= ?", s.ts(q.To))
	}
	if q.EventType != "" {
		w.add("event_type = ?", string(q.EventType))
	}
	if q.Severity != "" {
		w.add("severity = ?", string(q.Severity))
	}
	query := `SELECT merchant_id, event_type, ts, severity, details_json FROM timeline_events` + w.String() +
		` ORDER BY ts, id` + limitClause(0, q.Limit)
	rows, err := s.db.QueryContext(ctx, s.rebind(query), w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.TimelineEvent, 0)
	for rows.Next() {
		var ev model.TimelineEvent
		var ts timeValue
		var eventType, severity string
		var raw []byte
		if err := rows.Scan(&ev.MerchantID, &eventType, &ts, &severity, &raw); err != nil {
			return nil, err
		}
		ev.EventType = model.EventType(eventType)
		ev.Severity = model.Severity(severity)
		ev.Timestamp = ts.t
		if err := json.Unmarshal(raw, &ev.Details); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveSummaries replaces any stored summary for the same merchant and day.
func (s *sqlStore) SaveSummaries(ctx context.Context, summaries []model.DailySummary) error {
	_, err := s.execBatch(ctx,
		`INSERT INTO transaction_summaries (merchant_id, summary_date, transaction_count, total_volume,
			average_amount, max_amount, min_amount, unique_customers, unique_payment_methods)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (merchant_id, summary_date) DO UPDATE SET
			transaction_count = excluded.transaction_count,
			total_volume = excluded.total_volume,
			average_amount = excluded.average_amount,
			max_amount = excluded.max_amount,
			min_amount = excluded.min_amount,
			unique_customers = excluded.unique_customers,
			unique_payment_methods = excluded.unique_payment_methods`,
		len(summaries),
		func(i int) []any {
			d := summaries[i]
			return []any{d.MerchantID, d.Date.Format(dateLayout), d.TransactionCount, d.TotalVolume,
				d.AverageAmount, d.MaxAmount, d.MinAmount, d.UniqueCustomers, d.UniquePaymentMethods}
		})
	return err
}

func (s *sqlStore) ListSummaries(ctx context.Context, merchantID string, from, to time.Time) ([]model.DailySummary, error) {
	w := whereBuilder{}
	w.add("merchant_id = ?", merchantID)
	if !from.IsZero() {
		w.add("summary_date >= ?", from.Format(dateLayout))
	}
	if !to.IsZero() {
		w.add("summary_date <= ?", to.Format(dateLayout))
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT merchant_id, summary_date, transaction_count, total_volume,
		average_amount, max_amount, min_amount, unique_customers, unique_payment_methods
		FROM transaction_summaries`+w.String()+` ORDER BY summary_date`), w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.DailySummary, 0)
	for rows.Next() {
		var d model.DailySummary
		var date string
		if err := rows.Scan(&d.MerchantID, &date, &d.TransactionCount, &d.TotalVolume,
			&d.AverageAmount, &d.MaxAmount, &d.MinAmount, &d.UniqueCustomers, &d.UniquePaymentMethods); err != nil {
			return nil, err
		}
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, err
		}
		d.Date = day
		out = append(out, d)
	}
	return out, rows.Err()
}
