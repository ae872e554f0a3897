package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"merchantrisk/internal/model"
	"merchantrisk/internal/normalize"
	"merchantrisk/internal/storage"
	"merchantrisk/internal/timeline"
	"merchantrisk/internal/validate"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	maxMerchantCount = 10000
)

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Merchant Risk Analysis System",
		"version":     s.version,
		"description": "Merchant transaction analysis, risk scoring and timeline event detection",
		"endpoints": gin.H{
			"risk_metrics": gin.H{
				"calculate":   "/calculate-risk-metrics/{merchant_id}",
				"get_latest":  "/merchant/{merchant_id}/risk-metrics/latest",
				"get_history": "/merchant/{merchant_id}/risk-metrics/history",
			},
			"transaction_summaries": gin.H{
				"generate": "/generate-transaction-summary/{merchant_id}",
				"get":      "/merchant/{merchant_id}/transaction-summaries",
			},
			"timeline_events": gin.H{
				"generate": "/merchant/{merchant_id}/timeline-events",
				"get":      "/merchant/{merchant_id}/timeline-events",
			},
			"data_retrieval": gin.H{
				"get_merchants":             "/merchants",
				"get_transactions":          "/transactions",
				"get_merchant_transactions": "/merchant/{merchant_id}/transactions",
			},
		},
		"health":  "/health",
		"metrics": "/metrics/prometheus",
	})
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.version,
		"database":  "disabled",
	}
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			resp["status"] = "unhealthy"
			resp["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "connected"
	}
	c.JSON(http.StatusOK, resp)
}

type generateRequest struct {
	MerchantCount   *int     `json:"merchant_count"`
	FraudPercentage *float64 `json:"fraud_percentage"`
}

func (s *Server) generateData(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MerchantCount == nil || *req.MerchantCount <= 0 || *req.MerchantCount >= maxMerchantCount {
		abort(c, http.StatusBadRequest, fmt.Sprintf("merchant_count must be between 1 and %d", maxMerchantCount-1))
		return
	}
	if req.FraudPercentage == nil || *req.FraudPercentage < 0 || *req.FraudPercentage > 1 {
		abort(c, http.StatusBadRequest, "fraud_percentage must be between 0 and 1")
		return
	}
	res, err := s.engine.GenerateDataset(c.Request.Context(), *req.MerchantCount, *req.FraudPercentage)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":           "data generated and stored",
		"merchant_count":    res.MerchantCount,
		"transaction_count": res.TransactionCount,
		"injected_patterns": res.Injected,
	})
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		abort(c, http.StatusServiceUnavailable, "storage disabled")
		return false
	}
	return true
}

func (s *Server) listMerchants(c *gin.Context) {
	skip, limit, ok := pagination(c)
	if !ok || !s.requireStore(c) {
		return
	}
	merchants, err := s.store.ListMerchants(c.Request.Context(), skip, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, merchants)
}

func (s *Server) getMerchant(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	m, err := s.store.GetMerchant(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) merchantTransactions(c *gin.Context) {
	id := c.Param("id")
	if !validate.MerchantID(id) {
		abort(c, http.StatusBadRequest, "invalid merchant id format")
		return
	}
	skip, limit, ok := pagination(c)
	if !ok {
		return
	}
	from, okFrom := s.optionalTime(c, "start_date")
	to, okTo := s.optionalTime(c, "end_date")
	if !okFrom || !okTo || !s.requireStore(c) {
		return
	}
	txns, err := s.store.ListTransactions(c.Request.Context(), storage.TransactionQuery{
		MerchantID: id,
		From:       from,
		To:         to,
		Offset:     skip,
		Limit:      limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(txns) == 0 {
		abort(c, http.StatusNotFound, "no transactions found for merchant "+id)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (s *Server) listTransactions(c *gin.Context) {
	skip, limit, ok := pagination(c)
	if !ok || !s.requireStore(c) {
		return
	}
	txns, err := s.store.ListTransactions(c.Request.Context(), storage.TransactionQuery{Offset: skip, Limit: limit})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (s *Server) getTransaction(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	txn, err := s.store.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (s *Server) calculateRiskMetrics(c *gin.Context) {
	lookback, ok := intQuery(c, "lookback_days", s.cfg.Get().Scoring.DefaultLookbackDays)
	if !ok {
		return
	}
	rm, err := s.engine.CalculateRiskMetrics(c.Request.Context(), c.Param("id"), lookback)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant_id":           rm.MerchantID,
		"lookback_days":         rm.LookbackDays,
		"risk_metrics":          rm.Scores,
		"calculation_timestamp": rm.Timestamp,
	})
}

func (s *Server) latestRiskMetrics(c *gin.Context) {
	rm, err := s.engine.LatestRiskMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rm)
}

func (s *Server) riskMetricsHistory(c *gin.Context) {
	days, ok := intQuery(c, "days", s.cfg.Get().Scoring.DefaultLookbackDays)
	if !ok {
		return
	}
	history, err := s.engine.RiskMetricsHistory(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		s.fail(c, err)
		return
	}
	if history == nil {
		history = []model.RiskMetrics{}
	}
	c.JSON(http.StatusOK, gin.H{"merchant_id": c.Param("id"), "history": history})
}

func (s *Server) generateSummaries(c *gin.Context) {
	start, end, ok := s.requiredRange(c)
	if !ok {
		return
	}
	summaries, err := s.engine.GenerateSummaries(c.Request.Context(), c.Param("id"), start, end)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant_id":   c.Param("id"),
		"summary_count": len(summaries),
		"date_range":    gin.H{"start": start, "end": end},
		"summaries":     summaries,
	})
}

func (s *Server) listSummaries(c *gin.Context) {
	from, okFrom := s.optionalTime(c, "start_date")
	to, okTo := s.optionalTime(c, "end_date")
	if !okFrom || !okTo || !s.requireStore(c) {
		return
	}
	id := c.Param("id")
	summaries, err := s.store.ListSummaries(c.Request.Context(), id, from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(summaries) == 0 {
		abort(c, http.StatusNotFound, "no transaction summaries found for merchant "+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant_id": id, "summaries": summaries})
}

func (s *Server) generateTimelineEvents(c *gin.Context) {
	start, end, ok := s.requiredRange(c)
	if !ok {
		return
	}
	var types []model.EventType
	for _, raw := range c.QueryArray("event_types") {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			et, err := timeline.ParseEventType(part)
			if err != nil {
				abort(c, http.StatusBadRequest, err.Error())
				return
			}
			types = append(types, et)
		}
	}
	events, err := s.engine.GenerateTimelineEvents(c.Request.Context(), c.Param("id"), start, end, types)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant_id": c.Param("id"),
		"event_count": len(events),
		"events":      events,
	})
}

func (s *Server) listTimelineEvents(c *gin.Context) {
	from, okFrom := s.optionalTime(c, "start_date")
	to, okTo := s.optionalTime(c, "end_date")
	if !okFrom || !okTo {
		return
	}
	q := storage.EventQuery{MerchantID: c.Param("id"), From: from, To: to}
	if v := c.Query("event_type"); v != "" {
		et, err := timeline.ParseEventType(v)
		if err != nil {
			abort(c, http.StatusBadRequest, err.Error())
			return
		}
		q.EventType = et
	}
	if v := c.Query("severity"); v != "" {
		sev := model.Severity(strings.ToUpper(strings.TrimSpace(v)))
		switch sev {
		case model.SeverityLow, model.SeverityMedium, model.SeverityHigh:
			q.Severity = sev
		default:
			abort(c, http.StatusBadRequest, "unknown severity "+v)
			return
		}
	}
	if !s.requireStore(c) {
		return
	}
	events, err := s.store.ListTimelineEvents(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchant_id": q.MerchantID, "events": events})
}

// pagination reads skip and limit, replying 400 when either is out of range.
func pagination(c *gin.Context) (int, int, bool) {
	skip, ok := intQuery(c, "skip", 0)
	if !ok {
		return 0, 0, false
	}
	limit, ok := intQuery(c, "limit", defaultPageLimit)
	if !ok {
		return 0, 0, false
	}
	if skip < 0 || limit <= 0 || limit > maxPageLimit {
		abort(c, http.StatusBadRequest, fmt.Sprintf("skip must be >= 0 and limit between 1 and %d", maxPageLimit))
		return 0, 0, false
	}
	return skip, limit, true
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		abort(c, http.StatusBadRequest, key+" must be an integer")
		return 0, false
	}
	return n, true
}

// parseTime accepts a bare date or any timestamp the ingest path accepts;
// zone-less values are read in the scoring timezone.
func (s *Server) parseTime(value string) (time.Time, error) {
	loc, err := time.LoadLocation(s.cfg.Get().Scoring.Timezone)
	if err != nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(time.DateOnly, value, loc); err == nil {
		return t, nil
	}
	return normalize.ParseTimestamp(value, loc)
}

func (s *Server) optionalTime(c *gin.Context, key string) (time.Time, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return time.Time{}, true
	}
	t, err := s.parseTime(v)
	if err != nil {
		abort(c, http.StatusBadRequest, key+": "+err.Error())
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) requiredRange(c *gin.Context) (time.Time, time.Time, bool) {
	if c.Query("start_date") == "" || c.Query("end_date") == "" {
		abort(c, http.StatusBadRequest, "start_date and end_date are required")
		return time.Time{}, time.Time{}, false
	}
	start, ok := s.optionalTime(c, "start_date")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end, ok := s.optionalTime(c, "end_date")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
