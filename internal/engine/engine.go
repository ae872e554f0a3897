package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"merchantrisk/internal/alerts"
	"merchantrisk/internal/config"
	"merchantrisk/internal/generator"
	"merchantrisk/internal/metrics"
	"merchantrisk/internal/model"
	"merchantrisk/internal/publish"
	"merchantrisk/internal/scoring"
	"merchantrisk/internal/storage"
	"merchantrisk/internal/summary"
	"merchantrisk/internal/telemetry"
	"merchantrisk/internal/timeline"
	"merchantrisk/internal/validate"
)

var (
	ErrInvalidMerchantID = errors.New("invalid merchant id format")
	ErrInvalidLookback   = errors.New("lookback days out of range")
	ErrInvalidRange      = errors.New("invalid date range")
	ErrNoTransactions    = errors.New("no transactions found")
	ErrMerchantDenied    = errors.New("merchant denied by access control")
	ErrDuplicate         = errors.New("duplicate transaction")
	ErrStorageDisabled   = errors.New("storage disabled")
)

// RiskCache is the subset of the shared cache the engine needs.
type RiskCache interface {
	GetRiskMetrics(ctx context.Context, merchantID string) (model.RiskMetrics, bool, error)
	SetRiskMetrics(ctx context.Context, rm model.RiskMetrics) error
	Flush(ctx context.Context) error
}

type Engine struct {
	logger    *slog.Logger
	metrics   *metrics.Store
	alerts    *alerts.Store
	store     storage.Store
	cache     RiskCache
	publisher publish.Publisher
	detector  *timeline.Detector
	cfg       atomic.Value
	access    atomic.Value
	started   time.Time
	now       func() time.Time
	cooldown  *Cooldown
	deDupe    *DedupeCache
}

type Option func(*Engine)

func WithCache(c RiskCache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithPublisher(p publish.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg *config.Config, logger *slog.Logger, metricsStore *metrics.Store, alertsStore *alerts.Store, store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		logger:    logger,
		metrics:   metricsStore,
		alerts:    alertsStore,
		store:     store,
		publisher: publish.Nop{},
		detector:  timeline.NewDetector(logger),
		now:       time.Now,
		cooldown:  NewCooldown(),
		deDupe:    NewDedupeCache(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.started = e.now().UTC()
	e.cfg.Store(cfg)
	e.access.Store(buildAccessControl(cfg))
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.access.Store(buildAccessControl(cfg))
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Started() time.Time {
	return e.started
}

// Start consumes ingested transactions until ctx is done.
func (e *Engine) Start(ctx context.Context, in <-chan model.IngestedTransaction) {
	go func() {
		for {
			select {
			case it := <-in:
				if err := e.ProcessTransaction(ctx, it); err != nil && e.logger != nil &&
					!errors.Is(err, ErrDuplicate) && !errors.Is(err, ErrMerchantDenied) {
					e.logger.Warn("transaction processing failed",
						"transaction_id", it.Transaction.TransactionID,
						"merchant_id", it.Transaction.MerchantID,
						"source", it.Source,
						"err", err,
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessTransaction admits, deduplicates and stores one transaction, then
// rescores its merchant when auto rescoring is on and the cooldown allows.
func (e *Engine) ProcessTransaction(ctx context.Context, it model.IngestedTransaction) error {
	cfg := e.config()
	txn := it.Transaction

	if reason := e.accessSet().Check(txn.MerchantID); reason != "" {
		telemetry.TransactionsRejected.WithLabelValues(reason).Inc()
		if e.logger != nil {
			e.logger.Warn("transaction rejected by access control",
				"merchant_id", txn.MerchantID,
				"transaction_id", txn.TransactionID,
				"reason", reason,
			)
		}
		return ErrMerchantDenied
	}
	if e.store == nil {
		return ErrStorageDisabled
	}
	dedupe := cfg.Ingest.DedupeWindow > 0
	if dedupe && !e.deDupe.Claim(txn.TransactionID, e.now().UTC(), cfg.Ingest.DedupeWindow) {
		telemetry.TransactionsRejected.WithLabelValues("duplicate").Inc()
		return ErrDuplicate
	}
	if _, err := e.store.SaveTransactions(ctx, []model.Transaction{txn}); err != nil {
		if dedupe {
			e.deDupe.Release(txn.TransactionID)
		}
		return fmt.Errorf("save transaction: %w", err)
	}

	if cfg.Scoring.AutoRescore && e.cooldown.Allow(txn.MerchantID, e.now().UTC(), cfg.Scoring.RescoreCooldown) {
		if _, err := e.CalculateRiskMetrics(ctx, txn.MerchantID, cfg.Scoring.DefaultLookbackDays); err != nil && !errors.Is(err, ErrNoTransactions) {
			return fmt.Errorf("rescore: %w", err)
		}
	}
	return nil
}

// CalculateRiskMetrics scores the merchant's transactions from the last
// lookbackDays and records the result in storage, memory and the cache.
func (e *Engine) CalculateRiskMetrics(ctx context.Context, merchantID string, lookbackDays int) (model.RiskMetrics, error) {
	cfg := e.config()
	if !validate.MerchantID(merchantID) {
		return model.RiskMetrics{}, ErrInvalidMerchantID
	}
	if lookbackDays < 1 || lookbackDays > cfg.Scoring.MaxLookbackDays {
		return model.RiskMetrics{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLookback, lookbackDays, cfg.Scoring.MaxLookbackDays)
	}
	if e.store == nil {
		return model.RiskMetrics{}, ErrStorageDisabled
	}

	started := time.Now()
	now := e.now().UTC()
	txns, err := e.store.ListTransactions(ctx, storage.TransactionQuery{
		MerchantID: merchantID,
		From:       now.AddDate(0, 0, -lookbackDays),
	})
	if err != nil {
		return model.RiskMetrics{}, fmt.Errorf("list transactions: %w", err)
	}
	if len(txns) == 0 {
		return model.RiskMetrics{}, ErrNoTransactions
	}

	scores, err := scoring.ComputeScores(inLocation(txns, cfg.Scoring.Timezone), lookbackDays, scoring.WithWeights(scoringWeights(cfg.Scoring.Weights)))
	if err != nil {
		telemetry.RiskCalculations.WithLabelValues("error").Inc()
		return model.RiskMetrics{}, err
	}
	if err := validate.RiskScore(scores.Composite); err != nil {
		telemetry.RiskCalculations.WithLabelValues("error").Inc()
		return model.RiskMetrics{}, err
	}
	rm := model.RiskMetrics{
		MerchantID:   merchantID,
		Timestamp:    now,
		LookbackDays: lookbackDays,
		Scores:       scores,
	}
	if err := e.store.SaveRiskMetrics(ctx, rm); err != nil {
		return model.RiskMetrics{}, fmt.Errorf("save risk metrics: %w", err)
	}
	e.metrics.Update(rm)
	if e.cache != nil {
		if err := e.cache.SetRiskMetrics(ctx, rm); err != nil && e.logger != nil {
			e.logger.Warn("risk metrics cache write failed", "merchant_id", merchantID, "err", err)
		}
	}

	telemetry.RiskCalculations.WithLabelValues("ok").Inc()
	telemetry.RiskCalculationDuration.Observe(time.Since(started).Seconds())
	telemetry.CompositeScore.Observe(scores.Composite)
	telemetry.TrackedMerchants.Set(float64(len(e.metrics.GetAll())))
	if e.logger != nil {
		e.logger.Info("risk metrics calculated",
			"merchant_id", merchantID,
			"lookback_days", lookbackDays,
			"transactions", len(txns),
			"composite", scores.Composite,
		)
	}
	return rm, nil
}

// LatestRiskMetrics looks in the cache, then memory, then storage.
func (e *Engine) LatestRiskMetrics(ctx context.Context, merchantID string) (model.RiskMetrics, error) {
	if !validate.MerchantID(merchantID) {
		return model.RiskMetrics{}, ErrInvalidMerchantID
	}
	if e.cache != nil {
		rm, ok, err := e.cache.GetRiskMetrics(ctx, merchantID)
		switch {
		case err != nil:
			telemetry.CacheLookups.WithLabelValues("error").Inc()
			if e.logger != nil {
				e.logger.Warn("risk metrics cache read failed", "merchant_id", merchantID, "err", err)
			}
		case ok:
			telemetry.CacheLookups.WithLabelValues("hit").Inc()
			return rm, nil
		default:
			telemetry.CacheLookups.WithLabelValues("miss").Inc()
		}
	}
	if rm, _, ok := e.metrics.Get(merchantID); ok {
		return rm, nil
	}
	if e.store == nil {
		return model.RiskMetrics{}, storage.ErrNotFound
	}
	rm, err := e.store.LatestRiskMetrics(ctx, merchantID)
	if err != nil {
		return model.RiskMetrics{}, err
	}
	e.metrics.Update(rm)
	if e.cache != nil {
		_ = e.cache.SetRiskMetrics(ctx, rm)
	}
	return rm, nil
}

// RiskMetricsHistory returns stored calculations from the last days, oldest first.
func (e *Engine) RiskMetricsHistory(ctx context.Context, merchantID string, days int) ([]model.RiskMetrics, error) {
	cfg := e.config()
	if !validate.MerchantID(merchantID) {
		return nil, ErrInvalidMerchantID
	}
	if days < 1 || days > cfg.Scoring.MaxLookbackDays {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLookback, days)
	}
	if e.store == nil {
		return nil, ErrStorageDisabled
	}
	return e.store.RiskMetricsSince(ctx, merchantID, e.now().UTC().AddDate(0, 0, -days))
}

func (e *Engine) checkRange(start, end time.Time) error {
	if !end.After(start) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidRange)
	}
	maxDays := e.config().Timeline.MaxRangeDays
	if end.Sub(start) > time.Duration(maxDays)*24*time.Hour {
		return fmt.Errorf("%w: date range cannot exceed %d days", ErrInvalidRange, maxDays)
	}
	return nil
}

// GenerateTimelineEvents detects events in the merchant's transactions
// between start and end, keeps those of the requested types, and records them.
func (e *Engine) GenerateTimelineEvents(ctx context.Context, merchantID string, start, end time.Time, types []model.EventType) ([]model.TimelineEvent, error) {
	if !validate.MerchantID(merchantID) {
		return nil, ErrInvalidMerchantID
	}
	if err := e.checkRange(start, end); err != nil {
		return nil, err
	}
	if e.store == nil {
		return nil, ErrStorageDisabled
	}
	txns, err := e.store.ListTransactions(ctx, storage.TransactionQuery{MerchantID: merchantID, From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if len(txns) == 0 {
		return nil, ErrNoTransactions
	}

	cfg := e.config()
	events := timeline.Filter(e.detector.Detect(inLocation(txns, cfg.Scoring.Timezone)), types)
	if len(events) == 0 {
		return events, nil
	}
	if err := e.store.SaveTimelineEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("save timeline events: %w", err)
	}
	e.alerts.Add(events...)
	for _, ev := range events {
		telemetry.TimelineEvents.WithLabelValues(string(ev.EventType), string(ev.Severity)).Inc()
	}
	if err := e.publisher.Publish(ctx, events); err != nil {
		telemetry.EventsPublished.WithLabelValues("error").Add(float64(len(events)))
		if e.logger != nil {
			e.logger.Warn("timeline event publish failed", "merchant_id", merchantID, "events", len(events), "err", err)
		}
	} else {
		telemetry.EventsPublished.WithLabelValues("ok").Add(float64(len(events)))
	}
	if e.logger != nil {
		e.logger.Info("timeline events generated", "merchant_id", merchantID, "events", len(events))
	}
	return events, nil
}

// GenerateSummaries builds and stores one summary per day with activity.
func (e *Engine) GenerateSummaries(ctx context.Context, merchantID string, start, end time.Time) ([]model.DailySummary, error) {
	if !validate.MerchantID(merchantID) {
		return nil, ErrInvalidMerchantID
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date must not precede start date", ErrInvalidRange)
	}
	if e.store == nil {
		return nil, ErrStorageDisabled
	}
	cfg := e.config()
	loc := location(cfg.Scoring.Timezone)
	// Whole days: from start's midnight to the end of end's day.
	from := startOfDay(start.In(loc))
	to := startOfDay(end.In(loc)).AddDate(0, 0, 1).Add(-time.Nanosecond)
	txns, err := e.store.ListTransactions(ctx, storage.TransactionQuery{MerchantID: merchantID, From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	summaries := summary.Daily(inLocation(txns, cfg.Scoring.Timezone))
	if len(summaries) == 0 {
		return summaries, nil
	}
	if err := e.store.SaveSummaries(ctx, summaries); err != nil {
		return nil, fmt.Errorf("save summaries: %w", err)
	}
	return summaries, nil
}

type DatasetResult struct {
	MerchantCount    int                          `json:"merchant_count"`
	TransactionCount int                          `json:"transaction_count"`
	Injected         map[string]generator.Pattern `json:"injected_patterns"`
}

// GenerateDataset creates synthetic merchants and transactions and stores them.
func (e *Engine) GenerateDataset(ctx context.Context, merchantCount int, fraudFraction float64) (DatasetResult, error) {
	if e.store == nil {
		return DatasetResult{}, ErrStorageDisabled
	}
	cfg := e.config()
	ds, err := generator.New(cfg.Generator).WithClock(e.now).Dataset(merchantCount, fraudFraction)
	if err != nil {
		return DatasetResult{}, err
	}
	if err := validateDataset(ds); err != nil {
		return DatasetResult{}, err
	}
	if err := e.store.SaveMerchants(ctx, ds.Merchants); err != nil {
		return DatasetResult{}, fmt.Errorf("save merchants: %w", err)
	}
	stored, err := e.store.SaveTransactions(ctx, ds.Transactions)
	if err != nil {
		return DatasetResult{}, fmt.Errorf("save transactions: %w", err)
	}
	telemetry.TransactionsIngested.WithLabelValues("generator").Add(float64(stored))
	if e.logger != nil {
		e.logger.Info("dataset generated",
			"merchants", len(ds.Merchants),
			"transactions", len(ds.Transactions),
			"fraud_merchants", len(ds.Injected),
		)
	}
	return DatasetResult{
		MerchantCount:    len(ds.Merchants),
		TransactionCount: len(ds.Transactions),
		Injected:         ds.Injected,
	}, nil
}

// validateDataset rejects generated records that would not pass ingest.
func validateDataset(ds generator.Dataset) error {
	for _, m := range ds.Merchants {
		if !validate.MerchantID(m.MerchantID) {
			return fmt.Errorf("generated merchant %q: %w", m.MerchantID, ErrInvalidMerchantID)
		}
		if err := validate.BusinessModel(m.BusinessModel); err != nil {
			return fmt.Errorf("generated merchant %s: %w", m.MerchantID, err)
		}
	}
	for _, t := range ds.Transactions {
		if err := validate.Amount(t.Amount); err != nil {
			return fmt.Errorf("generated transaction %s: %w", t.TransactionID, err)
		}
	}
	return nil
}

// Reset forgets dedupe and cooldown state.
func (e *Engine) Reset() {
	e.cooldown.Reset()
	e.deDupe.Reset()
}

// ClearCache drops every cached risk metric.
func (e *Engine) ClearCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Flush(ctx)
}

func (e *Engine) accessSet() *MerchantAccess {
	if v := e.access.Load(); v != nil {
		if ac, ok := v.(*MerchantAccess); ok {
			return ac
		}
	}
	return nil
}

func scoringWeights(w config.WeightsConfig) scoring.Weights {
	return scoring.Weights{
		scoring.LateNight:             w.LateNight,
		scoring.SuddenSpike:           w.SuddenSpike,
		scoring.VelocityAbuse:         w.VelocityAbuse,
		scoring.DeviceSwitching:       w.DeviceSwitching,
		scoring.LocationHopping:       w.LocationHopping,
		scoring.PaymentCycling:        w.PaymentCycling,
		scoring.RoundAmount:           w.RoundAmount,
		scoring.CustomerConcentration: w.CustomerConcentration,
	}
}

func location(name string) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.UTC
}

// inLocation returns copies whose timestamps are expressed in the named zone,
// which fixes the hour-of-day and calendar-day used by scoring and detection.
func inLocation(txns []model.Transaction, zone string) []model.Transaction {
	loc := location(zone)
	out := make([]model.Transaction, len(txns))
	for i, t := range txns {
		t.Timestamp = t.Timestamp.In(loc)
		out[i] = t
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
