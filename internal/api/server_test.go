package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchantrisk/internal/alerts"
	"merchantrisk/internal/config"
	"merchantrisk/internal/engine"
	"merchantrisk/internal/ingest"
	"merchantrisk/internal/metrics"
	"merchantrisk/internal/model"
	"merchantrisk/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const merchant = "M1234567"

var fixedNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	router http.Handler
	store  storage.Store
	cfg    *config.Manager
	ingest chan model.IngestedTransaction
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Generator.Days = 2
	cfg.Generator.Seed = 7
	mgr := config.NewStaticManager(cfg)

	dsn := "file:" + filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.NewStore(config.StorageConfig{Enabled: true, Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	metricsStore := metrics.NewStore(100)
	alertsStore := alerts.NewStore(100)
	eng := engine.NewEngine(cfg, nil, metricsStore, alertsStore, store,
		engine.WithClock(func() time.Time { return fixedNow }))
	out := make(chan model.IngestedTransaction, 10)
	srv := NewServer(mgr, eng, store, metricsStore, alertsStore, ingest.NewRESTHandler(mgr, out, nil), nil, "test")
	return &testEnv{router: srv.Router(), store: store, cfg: mgr, ingest: out}
}

// seed stores one late-night round-amount transaction per day before fixedNow.
func (e *testEnv) seed(t *testing.T, n int) {
	t.Helper()
	txns := make([]model.Transaction, n)
	for i := range txns {
		d := fixedNow.AddDate(0, 0, -(i + 1))
		txns[i] = model.Transaction{
			TransactionID: fmt.Sprintf("TXN%012d", i),
			MerchantID:    merchant,
			Timestamp:     time.Date(d.Year(), d.Month(), d.Day(), 23, 0, 0, 0, time.UTC),
			Amount:        500,
			PaymentMethod: "Card",
			Status:        model.StatusSuccess,
			CustomerID:    "C1",
			DeviceID:      "D1",
		}
	}
	_, err := e.store.SaveTransactions(context.Background(), txns)
	require.NoError(t, err)
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndRoot(t *testing.T) {
	env := setup(t)

	w := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = env.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", decode(t, w)["version"])
}

func TestGenerateAndListMerchants(t *testing.T) {
	env := setup(t)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/generate-and-store-data", `{"merchant_count":0,"fraud_percentage":0.1}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/generate-and-store-data", `{"merchant_count":3}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/generate-and-store-data", `{"merchant_count":3,"fraud_percentage":1.5}`).Code)

	w := env.do(http.MethodPost, "/generate-and-store-data", `{"merchant_count":3,"fraud_percentage":0}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decode(t, w)["merchant_count"])

	w = env.do(http.MethodGet, "/merchants?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var merchants []model.Merchant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &merchants))
	assert.Len(t, merchants, 2)

	w = env.do(http.MethodGet, "/merchant/"+merchants[0].MerchantID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/merchant/M0000000", "").Code)
}

func TestPaginationBounds(t *testing.T) {
	env := setup(t)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/transactions?limit=2000", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/transactions?skip=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/merchants?limit=abc", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/transactions?limit=1000", "").Code)
}

func TestMerchantTransactions(t *testing.T) {
	env := setup(t)
	env.seed(t, 5)

	w := env.do(http.MethodGet, "/merchant/"+merchant+"/transactions?start_date=2026-03-28", "")
	require.Equal(t, http.StatusOK, w.Code)
	var txns []model.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txns))
	assert.Len(t, txns, 3)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/merchant/bad/transactions", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/merchant/M7654321/transactions", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/merchant/"+merchant+"/transactions?end_date=yesterday", "").Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/transaction/TXN000000000001", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/transaction/TXNMISSING", "").Code)
}

func TestRiskMetricsEndpoints(t *testing.T) {
	env := setup(t)
	env.seed(t, 5)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/merchant/"+merchant+"/risk-metrics/latest", "").Code)

	w := env.do(http.MethodPost, "/calculate-risk-metrics/"+merchant+"?lookback_days=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	scores := body["risk_metrics"].(map[string]any)
	assert.Equal(t, 1.0, scores["late_night_score"])
	assert.Equal(t, 1.0, scores["round_amount_score"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/calculate-risk-metrics/bad", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/calculate-risk-metrics/"+merchant+"?lookback_days=400", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/calculate-risk-metrics/"+merchant+"?lookback_days=x", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/calculate-risk-metrics/M7654321", "").Code)

	w = env.do(http.MethodGet, "/merchant/"+merchant+"/risk-metrics/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(10), decode(t, w)["lookback_days"])

	w = env.do(http.MethodGet, "/merchant/"+merchant+"/risk-metrics/history?days=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["history"], 1)

	w = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/metrics/"+merchant, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/metrics/M7654321", "").Code)
}

func TestTimelineEndpoints(t *testing.T) {
	env := setup(t)
	env.seed(t, 5)
	base := "/merchant/" + merchant + "/timeline-events"

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base+"?start_date=2026-03-31&end_date=2026-03-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base+"?start_date=2025-01-01&end_date=2026-03-31", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, base+"?start_date=2026-03-20&end_date=2026-03-31&event_types=bogus", "").Code)

	w := env.do(http.MethodPost, base+"?start_date=2026-03-20&end_date=2026-03-31&event_types=late_night", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(5), decode(t, w)["event_count"])

	w = env.do(http.MethodPost, base+"?start_date=2026-03-20T00:00:00Z&end_date=2026-03-31T00:00:00Z&event_types=round_amount", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["event_count"])

	w = env.do(http.MethodGet, base+"?severity=medium", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 5)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, base+"?severity=extreme", "").Code)

	w = env.do(http.MethodGet, "/alerts?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["count"])
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/alerts?since=yesterday", "").Code)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/merchant/M7654321/timeline-events?start_date=2026-03-20&end_date=2026-03-31", "").Code)
}

func TestSummaryEndpoints(t *testing.T) {
	env := setup(t)
	env.seed(t, 3)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/merchant/"+merchant+"/transaction-summaries", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/generate-transaction-summary/"+merchant+"?start_date=2026-03-01", "").Code)

	w := env.do(http.MethodPost, "/generate-transaction-summary/"+merchant+"?start_date=2026-03-25&end_date=2026-03-31", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), decode(t, w)["summary_count"])

	w = env.do(http.MethodGet, "/merchant/"+merchant+"/transaction-summaries", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["summaries"], 3)
}

func TestIngestTransactions(t *testing.T) {
	env := setup(t)
	w := env.do(http.MethodPost, "/transactions", `{"transaction_id":"TXN1","merchant_id":"M1234567","amount":250,"timestamp":"2026-03-30T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["accepted"])
	got := <-env.ingest
	assert.Equal(t, "TXN1", got.Transaction.TransactionID)
}

func TestAccessControlAndAdmin(t *testing.T) {
	env := setup(t)

	w := env.do(http.MethodPost, "/config/access_control", `{"enabled":true,"blocklist":[" m7654321 ",""]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"M7654321"}, env.cfg.Get().AccessControl.Blocklist)

	w = env.do(http.MethodGet, "/config/access_control", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "M7654321")
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/config/access_control", `{nope`).Code)

	w = env.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/admin/clear", `{"target":"alerts"}`).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/admin/clear", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/admin/clear", `{"target":"everything"}`).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/admin/restart", "").Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	env := setup(t)
	env.do(http.MethodGet, "/health", "")
	w := env.do(http.MethodGet, "/metrics/prometheus", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "merchantrisk_http_requests_total")
}
