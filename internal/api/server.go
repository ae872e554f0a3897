package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"merchantrisk/internal/alerts"
	"merchantrisk/internal/config"
	"merchantrisk/internal/engine"
	"merchantrisk/internal/ingest"
	"merchantrisk/internal/logging"
	"merchantrisk/internal/metrics"
	"merchantrisk/internal/model"
	"merchantrisk/internal/scoring"
	"merchantrisk/internal/storage"
	"merchantrisk/internal/telemetry"
)

// Engine is the part of the risk engine the HTTP layer drives.
type Engine interface {
	CalculateRiskMetrics(ctx context.Context, merchantID string, lookbackDays int) (model.RiskMetrics, error)
	LatestRiskMetrics(ctx context.Context, merchantID string) (model.RiskMetrics, error)
	RiskMetricsHistory(ctx context.Context, merchantID string, days int) ([]model.RiskMetrics, error)
	GenerateTimelineEvents(ctx context.Context, merchantID string, start, end time.Time, types []model.EventType) ([]model.TimelineEvent, error)
	GenerateSummaries(ctx context.Context, merchantID string, start, end time.Time) ([]model.DailySummary, error)
	GenerateDataset(ctx context.Context, merchantCount int, fraudFraction float64) (engine.DatasetResult, error)
	ClearCache(ctx context.Context) error
	Reset()
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg     *config.Manager
	engine  Engine
	store   storage.Store
	metrics *metrics.Store
	alerts  *alerts.Store
	rest    *ingest.RESTHandler
	logger  *slog.Logger
	version string
}

func NewServer(cfg *config.Manager, eng Engine, store storage.Store, metricsStore *metrics.Store, alertsStore *alerts.Store, rest *ingest.RESTHandler, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		engine:  eng,
		store:   store,
		metrics: metricsStore,
		alerts:  alertsStore,
		rest:    rest,
		logger:  logger,
		version: version,
	}
}

// Start serves the API until ctx is done. It returns nil when the API is disabled.
func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		if s.logger != nil {
			s.logger.Info("api disabled")
		}
		return nil
	}
	if s.logger != nil {
		s.logger.Info("api enabled", "addr", current.Addr)
	}

	httpServer := &http.Server{
		Addr:         current.Addr,
		Handler:      s.Router(),
		ReadTimeout:  current.ReadTimeout,
		WriteTimeout: current.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), telemetry.Middleware())

	r.GET("/", s.root)
	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.GET("/metrics/prometheus", telemetry.Handler())

	r.POST("/generate-and-store-data", s.generateData)
	r.GET("/merchants", s.listMerchants)
	r.GET("/merchant/:id", s.getMerchant)
	r.GET("/merchant/:id/transactions", s.merchantTransactions)
	r.GET("/transactions", s.listTransactions)
	if s.rest != nil {
		r.POST("/transactions", s.rest.Handle)
	}
	r.GET("/transaction/:id", s.getTransaction)

	r.POST("/calculate-risk-metrics/:id", s.calculateRiskMetrics)
	r.GET("/merchant/:id/risk-metrics/latest", s.latestRiskMetrics)
	r.GET("/merchant/:id/risk-metrics/history", s.riskMetricsHistory)

	r.POST("/generate-transaction-summary/:id", s.generateSummaries)
	r.GET("/merchant/:id/transaction-summaries", s.listSummaries)

	r.POST("/merchant/:id/timeline-events", s.generateTimelineEvents)
	r.GET("/merchant/:id/timeline-events", s.listTimelineEvents)

	r.GET("/alerts", s.listAlerts)
	r.GET("/metrics", s.listMetrics)
	r.GET("/metrics/:id", s.merchantMetrics)
	r.GET("/config/access_control", s.getAccessControl)
	r.POST("/config/access_control", s.updateAccessControl)
	r.POST("/admin/clear", s.clear)
	r.POST("/admin/restart", s.restart)
	return r
}

// requestID tags every request with an id and a logger carrying it.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		if s.logger != nil {
			ctx := logging.WithLogger(c.Request.Context(), s.logger.With("request_id", id))
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// fail maps engine and storage errors onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	var verr *scoring.ValidationError
	switch {
	case errors.As(err, &verr):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrInvalidMerchantID),
		errors.Is(err, engine.ErrInvalidLookback),
		errors.Is(err, engine.ErrInvalidRange):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNoTransactions), errors.Is(err, storage.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrStorageDisabled):
		abort(c, http.StatusServiceUnavailable, err.Error())
	default:
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "err", err)
		abort(c, http.StatusInternalServerError, "internal server error")
	}
}
