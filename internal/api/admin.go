package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
)

type statusResponse struct {
	Status        string                     `json:"status"`
	Time          string                     `json:"time"`
	Version       string                     `json:"version"`
	ConfigPath    string                     `json:"config_path"`
	AccessControl config.AccessControlConfig `json:"access_control"`
	Ingest        ingestStatus               `json:"ingest"`
	Storage       storageStatus              `json:"storage"`
	Cache         bool                       `json:"cache"`
	Scoring       scoringStatus              `json:"scoring"`
	Tracked       int                        `json:"tracked_merchants"`
	RecentEvents  int                        `json:"recent_events"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

type scoringStatus struct {
	Timezone            string               `json:"timezone"`
	DefaultLookbackDays int                  `json:"default_lookback_days"`
	AutoRescore         bool                 `json:"auto_rescore"`
	Weights             config.WeightsConfig `json:"weights"`
}

func (s *Server) status(c *gin.Context) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:        "ok",
		Time:          time.Now().UTC().Format(time.RFC3339Nano),
		Version:       s.version,
		ConfigPath:    s.cfg.Path(),
		AccessControl: cfg.AccessControl,
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
		},
		Storage: storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
		Cache:   cfg.Cache.Enabled,
		Scoring: scoringStatus{
			Timezone:            cfg.Scoring.Timezone,
			DefaultLookbackDays: cfg.Scoring.DefaultLookbackDays,
			AutoRescore:         cfg.Scoring.AutoRescore,
			Weights:             cfg.Scoring.Weights,
		},
	}
	if s.metrics != nil {
		resp.Tracked = len(s.metrics.GetAll())
	}
	if s.alerts != nil {
		resp.RecentEvents = s.alerts.Len()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listMetrics(c *gin.Context) {
	all := s.metrics.GetAll()
	c.JSON(http.StatusOK, gin.H{"metrics": all, "count": len(all)})
}

func (s *Server) merchantMetrics(c *gin.Context) {
	id := c.Param("id")
	rm, updated, ok := s.metrics.Get(id)
	if !ok {
		abort(c, http.StatusNotFound, "no metrics tracked for merchant "+id)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merchant_id": id,
		"updated_at":  updated.Format(time.RFC3339Nano),
		"metrics":     rm.Scores,
	})
}

func (s *Server) listAlerts(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	var list []model.TimelineEvent
	switch {
	case c.Query("since") != "":
		ts, err := time.Parse(time.RFC3339, c.Query("since"))
		if err != nil {
			abort(c, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.alerts.Since(ts)
	case c.Query("merchant_id") != "":
		list = s.alerts.ForMerchant(c.Query("merchant_id"), limit)
	default:
		list = s.alerts.List(limit)
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list, "count": len(list)})
}

func (s *Server) getAccessControl(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"access_control": s.cfg.Get().AccessControl})
}

func (s *Server) updateAccessControl(c *gin.Context) {
	var ac config.AccessControlConfig
	if err := c.ShouldBindJSON(&ac); err != nil {
		abort(c, http.StatusBadRequest, "invalid access control body")
		return
	}
	ac.Allowlist = sanitizeIDList(ac.Allowlist)
	ac.Blocklist = sanitizeIDList(ac.Blocklist)
	next := *s.cfg.Get()
	next.AccessControl = ac
	if err := s.cfg.Update(&next); err != nil {
		s.fail(c, err)
		return
	}
	if s.engine != nil {
		s.engine.UpdateConfig(&next)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// clear drops in-memory state; target is one of all, alerts, metrics or cache.
func (s *Server) clear(c *gin.Context) {
	var req struct {
		Target string `json:"target"`
	}
	_ = c.ShouldBindJSON(&req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.metrics.Clear()
		s.alerts.Clear()
		if err := s.engine.ClearCache(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}
	case "alerts", "events":
		s.alerts.Clear()
	case "metrics":
		s.metrics.Clear()
	case "cache":
		if err := s.engine.ClearCache(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}
	default:
		abort(c, http.StatusBadRequest, "unknown target "+req.Target)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "target": target})
}

func (s *Server) restart(c *gin.Context) {
	s.engine.Reset()
	s.metrics.Clear()
	s.alerts.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func sanitizeIDList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
