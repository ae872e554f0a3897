package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchantrisk/internal/alerts"
	"merchantrisk/internal/config"
	"merchantrisk/internal/generator"
	"merchantrisk/internal/metrics"
	"merchantrisk/internal/model"
	"merchantrisk/internal/storage"
)

const merchant = "M1234567"

var fixedNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

type fakeCache struct {
	items map[string]model.RiskMetrics
	sets  int
}

func (f *fakeCache) GetRiskMetrics(_ context.Context, id string) (model.RiskMetrics, bool, error) {
	rm, ok := f.items[id]
	return rm, ok, nil
}

func (f *fakeCache) SetRiskMetrics(_ context.Context, rm model.RiskMetrics) error {
	f.sets++
	f.items[rm.MerchantID] = rm
	return nil
}

func (f *fakeCache) Flush(context.Context) error {
	f.items = map[string]model.RiskMetrics{}
	return nil
}

type fakePublisher struct {
	events []model.TimelineEvent
}

func (f *fakePublisher) Publish(_ context.Context, events []model.TimelineEvent) error {
	f.events = append(f.events, events...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type harness struct {
	eng       *Engine
	store     storage.Store
	cache     *fakeCache
	publisher *fakePublisher
	metrics   *metrics.Store
	alerts    *alerts.Store
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingest.DedupeWindow = time.Minute
	cfg.Scoring.RescoreCooldown = 0
	cfg.Generator.Days = 2
	cfg.Generator.Seed = 99
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "engine.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:     store,
		cache:     &fakeCache{items: map[string]model.RiskMetrics{}},
		publisher: &fakePublisher{},
		metrics:   metrics.NewStore(100),
		alerts:    alerts.NewStore(100),
	}
	h.eng = NewEngine(cfg, nil, h.metrics, h.alerts, store,
		WithCache(h.cache),
		WithPublisher(h.publisher),
		WithClock(func() time.Time { return fixedNow }),
	)
	return h
}

// seed stores n transactions for merchant, one per hour ending at fixedNow-1d,
// all at the given hour of day.
func (h *harness) seed(t *testing.T, n int, hour int) []model.Transaction {
	t.Helper()
	txns := make([]model.Transaction, n)
	day := fixedNow.AddDate(0, 0, -1)
	for i := range txns {
		d := day.AddDate(0, 0, -i)
		txns[i] = model.Transaction{
			TransactionID:    fmt.Sprintf("TXN%012d", i),
			MerchantID:       merchant,
			Timestamp:        time.Date(d.Year(), d.Month(), d.Day(), hour, i, 0, 0, time.UTC),
			Amount:           1000,
			PaymentMethod:    "UPI",
			Status:           model.StatusSuccess,
			CustomerLocation: "Pune",
			CustomerID:       fmt.Sprintf("C%d", i%3),
			DeviceID:         "D1",
		}
	}
	_, err := h.store.SaveTransactions(context.Background(), txns)
	require.NoError(t, err)
	return txns
}

func TestCalculateRiskMetrics(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seed(t, 10, 2)
	ctx := context.Background()

	rm, err := h.eng.CalculateRiskMetrics(ctx, merchant, 30)
	require.NoError(t, err)
	assert.Equal(t, merchant, rm.MerchantID)
	assert.Equal(t, fixedNow, rm.Timestamp)
	assert.Equal(t, 1.0, rm.Scores.LateNight)
	assert.Equal(t, 1.0, rm.Scores.RoundAmount)
	assert.GreaterOrEqual(t, rm.Scores.Composite, 0.0)
	assert.LessOrEqual(t, rm.Scores.Composite, 1.0)

	stored, err := h.store.LatestRiskMetrics(ctx, merchant)
	require.NoError(t, err)
	assert.Equal(t, rm.Scores, stored.Scores)
	_, _, ok := h.metrics.Get(merchant)
	assert.True(t, ok)
	assert.Equal(t, 1, h.cache.sets)
}

func TestCalculateRiskMetricsLookbackWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seed(t, 10, 10)
	// Only the records from the last 3 days are in range.
	rm, err := h.eng.CalculateRiskMetrics(context.Background(), merchant, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rm.LookbackDays)
	assert.Equal(t, 0.0, rm.Scores.LateNight)
}

func TestCalculateRiskMetricsRejects(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.eng.CalculateRiskMetrics(ctx, "123", 30)
	assert.ErrorIs(t, err, ErrInvalidMerchantID)
	_, err = h.eng.CalculateRiskMetrics(ctx, merchant, 0)
	assert.ErrorIs(t, err, ErrInvalidLookback)
	_, err = h.eng.CalculateRiskMetrics(ctx, merchant, 366)
	assert.ErrorIs(t, err, ErrInvalidLookback)
	_, err = h.eng.CalculateRiskMetrics(ctx, merchant, 30)
	assert.ErrorIs(t, err, ErrNoTransactions)
}

func TestLatestRiskMetricsLookupOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.eng.LatestRiskMetrics(ctx, merchant)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	fromStore := model.RiskMetrics{MerchantID: merchant, Timestamp: fixedNow.Add(-time.Hour), LookbackDays: 30, Scores: model.ScoreSet{Composite: 0.3}}
	require.NoError(t, h.store.SaveRiskMetrics(ctx, fromStore))
	got, err := h.eng.LatestRiskMetrics(ctx, merchant)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.Scores.Composite)
	assert.Equal(t, 1, h.cache.sets, "storage hit warms the cache")

	h.cache.items[merchant] = model.RiskMetrics{MerchantID: merchant, Scores: model.ScoreSet{Composite: 0.9}}
	got, err = h.eng.LatestRiskMetrics(ctx, merchant)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Scores.Composite)

	require.NoError(t, h.eng.ClearCache(ctx))
	got, err = h.eng.LatestRiskMetrics(ctx, merchant)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.Scores.Composite, "memory copy survives a cache flush")
}

func TestRiskMetricsHistory(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	for _, age := range []time.Duration{time.Hour, 48 * time.Hour, 30 * 24 * time.Hour} {
		require.NoError(t, h.store.SaveRiskMetrics(ctx, model.RiskMetrics{MerchantID: merchant, Timestamp: fixedNow.Add(-age), LookbackDays: 30}))
	}
	hist, err := h.eng.RiskMetricsHistory(ctx, merchant, 7)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
	_, err = h.eng.RiskMetricsHistory(ctx, merchant, 0)
	assert.ErrorIs(t, err, ErrInvalidLookback)
}

func TestProcessTransaction(t *testing.T) {
	cfg := testConfig()
	cfg.Scoring.AutoRescore = true
	cfg.AccessControl = config.AccessControlConfig{Enabled: true, Blocklist: []string{"m7654321"}}
	h := newHarness(t, cfg)
	ctx := context.Background()

	it := model.IngestedTransaction{Source: "rest", Transaction: model.Transaction{
		TransactionID: "TXN1",
		MerchantID:    merchant,
		Timestamp:     fixedNow.Add(-time.Hour),
		Amount:        42,
		PaymentMethod: "UPI",
		Status:        model.StatusSuccess,
	}}
	require.NoError(t, h.eng.ProcessTransaction(ctx, it))
	assert.ErrorIs(t, h.eng.ProcessTransaction(ctx, it), ErrDuplicate)

	stored, err := h.store.GetTransaction(ctx, "TXN1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, stored.Amount)
	_, _, ok := h.metrics.Get(merchant)
	assert.True(t, ok, "auto rescore records metrics")

	blocked := it
	blocked.Transaction.TransactionID = "TXN2"
	blocked.Transaction.MerchantID = "M7654321"
	assert.ErrorIs(t, h.eng.ProcessTransaction(ctx, blocked), ErrMerchantDenied)

	h.eng.Reset()
	require.NoError(t, h.eng.ProcessTransaction(ctx, it), "reset clears dedupe state")
}

// failingStore fails the first failures calls to SaveTransactions.
type failingStore struct {
	storage.Store
	failures int
}

func (f *failingStore) SaveTransactions(ctx context.Context, txns []model.Transaction) (int, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("db down")
	}
	return f.Store.SaveTransactions(ctx, txns)
}

func TestProcessTransactionRetriesAfterFailedSave(t *testing.T) {
	h := newHarness(t, testConfig())
	flaky := &failingStore{Store: h.store, failures: 1}
	eng := NewEngine(testConfig(), nil, h.metrics, h.alerts, flaky,
		WithClock(func() time.Time { return fixedNow }),
	)
	ctx := context.Background()
	it := model.IngestedTransaction{Source: "kafka", Transaction: model.Transaction{
		TransactionID: "TXN77",
		MerchantID:    merchant,
		Timestamp:     fixedNow.Add(-time.Hour),
		Amount:        310,
		Status:        model.StatusSuccess,
	}}

	err := eng.ProcessTransaction(ctx, it)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)

	require.NoError(t, eng.ProcessTransaction(ctx, it), "redelivery after a failed save is admitted")
	stored, err := h.store.GetTransaction(ctx, "TXN77")
	require.NoError(t, err)
	assert.Equal(t, 310.0, stored.Amount)

	assert.ErrorIs(t, eng.ProcessTransaction(ctx, it), ErrDuplicate)
}

func TestStartConsumesChannel(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan model.IngestedTransaction, 1)
	h.eng.Start(ctx, in)
	in <- model.IngestedTransaction{Transaction: model.Transaction{TransactionID: "TXN9", MerchantID: merchant, Timestamp: fixedNow, Amount: 5, Status: model.StatusSuccess}}

	require.Eventually(t, func() bool {
		_, err := h.store.GetTransaction(context.Background(), "TXN9")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGenerateTimelineEvents(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seed(t, 5, 2)
	ctx := context.Background()
	start, end := fixedNow.AddDate(0, 0, -10), fixedNow

	events, err := h.eng.GenerateTimelineEvents(ctx, merchant, start, end, nil)
	require.NoError(t, err)
	// Five round amounts followed by five late-night events.
	require.Len(t, events, 10)
	assert.Equal(t, model.EventRoundAmount, events[0].EventType)
	assert.Equal(t, model.EventLateNight, events[9].EventType)
	assert.Len(t, h.publisher.events, 10)
	assert.Equal(t, 10, h.alerts.Len())

	stored, err := h.store.ListTimelineEvents(ctx, storage.EventQuery{MerchantID: merchant})
	require.NoError(t, err)
	assert.Len(t, stored, 10)

	only, err := h.eng.GenerateTimelineEvents(ctx, merchant, start, end, []model.EventType{model.EventLateNight})
	require.NoError(t, err)
	assert.Len(t, only, 5)
}

func TestGenerateTimelineEventsRange(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.eng.GenerateTimelineEvents(ctx, merchant, fixedNow, fixedNow, nil)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = h.eng.GenerateTimelineEvents(ctx, merchant, fixedNow.AddDate(0, 0, -91), fixedNow, nil)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = h.eng.GenerateTimelineEvents(ctx, merchant, fixedNow.AddDate(0, 0, -90), fixedNow, nil)
	assert.ErrorIs(t, err, ErrNoTransactions)
	_, err = h.eng.GenerateTimelineEvents(ctx, "bad", fixedNow.AddDate(0, 0, -1), fixedNow, nil)
	assert.True(t, errors.Is(err, ErrInvalidMerchantID))
}

func TestGenerateSummaries(t *testing.T) {
	h := newHarness(t, testConfig())
	h.seed(t, 4, 10)
	ctx := context.Background()

	summaries, err := h.eng.GenerateSummaries(ctx, merchant, fixedNow.AddDate(0, 0, -3), fixedNow)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	for _, s := range summaries {
		assert.Equal(t, 1, s.TransactionCount)
		assert.Equal(t, 1000.0, s.TotalVolume)
	}
	stored, err := h.store.ListSummaries(ctx, merchant, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	_, err = h.eng.GenerateSummaries(ctx, merchant, fixedNow, fixedNow.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestGenerateDataset(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	res, err := h.eng.GenerateDataset(ctx, 6, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 6, res.MerchantCount)
	assert.Len(t, res.Injected, 3)

	merchants, err := h.store.ListMerchants(ctx, 0, 100)
	require.NoError(t, err)
	assert.Len(t, merchants, 6)
	txns, err := h.store.ListTransactions(ctx, storage.TransactionQuery{})
	require.NoError(t, err)
	assert.Len(t, txns, res.TransactionCount)

	_, err = h.eng.GenerateDataset(ctx, 0, 0.1)
	assert.Error(t, err)
}

func TestAccessControl(t *testing.T) {
	ac := buildAccessControl(&config.Config{AccessControl: config.AccessControlConfig{
		Enabled:       true,
		AllowlistOnly: true,
		Allowlist:     []string{" M1234567 "},
		Blocklist:     []string{"M0000001"},
	}})
	assert.Equal(t, "", ac.Check(merchant))
	assert.Equal(t, "blocklisted_merchant", ac.Check("M0000001"))
	assert.Equal(t, "not_allowlisted", ac.Check("M7654321"))

	var disabled *MerchantAccess
	assert.Equal(t, "", disabled.Check("M0000001"))
}

func TestDedupeAndCooldown(t *testing.T) {
	d := NewDedupeCache()
	assert.True(t, d.Claim("a", fixedNow, time.Minute))
	assert.False(t, d.Claim("a", fixedNow.Add(30*time.Second), time.Minute))
	assert.True(t, d.Claim("a", fixedNow.Add(2*time.Minute), time.Minute))
	d.Release("a")
	assert.True(t, d.Claim("a", fixedNow.Add(2*time.Minute+time.Second), time.Minute))
	assert.Equal(t, 1, d.Len())

	c := NewCooldown()
	assert.True(t, c.Allow(merchant, fixedNow, time.Minute))
	assert.False(t, c.Allow(merchant, fixedNow.Add(time.Second), time.Minute))
	assert.True(t, c.Allow(merchant, fixedNow.Add(2*time.Minute), time.Minute))
	c.Reset()
	assert.True(t, c.Allow(merchant, fixedNow.Add(2*time.Minute+time.Second), time.Minute))
}

func TestValidateDataset(t *testing.T) {
	good := generator.Dataset{
		Merchants:    []model.Merchant{{MerchantID: merchant, BusinessModel: model.BusinessHybrid}},
		Transactions: []model.Transaction{{TransactionID: "TXN1", Amount: 250}},
	}
	assert.NoError(t, validateDataset(good))

	bad := good
	bad.Merchants = []model.Merchant{{MerchantID: merchant, BusinessModel: "Barter"}}
	assert.Error(t, validateDataset(bad))

	bad = good
	bad.Transactions = []model.Transaction{{TransactionID: "TXN2", Amount: 2_000_000}}
	assert.Error(t, validateDataset(bad))
}
