package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
	"merchantrisk/internal/normalize"
	"merchantrisk/internal/telemetry"
)

const maxBodyBytes = 2 << 20

type RESTHandler struct {
	cfg    *config.Manager
	out    chan<- model.IngestedTransaction
	logger *slog.Logger
}

func NewRESTHandler(cfg *config.Manager, out chan<- model.IngestedTransaction, logger *slog.Logger) *RESTHandler {
	return &RESTHandler{cfg: cfg, out: out, logger: logger}
}

// Handle accepts a single transaction object or an array of them and replies
// with the number accepted onto the ingest channel and the number rejected.
func (h *RESTHandler) Handle(c *gin.Context) {
	if !h.cfg.Get().Ingest.REST.Enabled {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rest ingest disabled"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}

	var list []map[string]any
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &list); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json array"})
			return
		}
	} else {
		var obj map[string]any
		if err := json.Unmarshal(trim, &obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json object"})
			return
		}
		list = append(list, obj)
	}

	ctx := c.Request.Context()
	cfg := h.cfg.Get()
	accepted, failed := 0, 0
	var errs []string
	for _, obj := range list {
		if err := h.process(ctx, obj, cfg); err != nil {
			failed++
			errs = append(errs, err.Error())
			continue
		}
		accepted++
	}
	resp := gin.H{"accepted": accepted, "failed": failed}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RESTHandler) process(ctx context.Context, obj map[string]any, cfg *config.Config) error {
	fields := ParseJSONMap(obj)
	fields.Raw = "rest"
	txn, err := normalize.Normalize(*fields, cfg)
	if err != nil {
		telemetry.TransactionsRejected.WithLabelValues("invalid").Inc()
		if h.logger != nil {
			h.logger.Warn("rest normalize error", "err", err)
		}
		return err
	}
	if !SendNonBlocking(ctx, h.out, model.IngestedTransaction{Transaction: txn, Source: SourceREST, ReceivedAt: time.Now().UTC()}, h.logger) {
		return errChannelFull
	}
	return nil
}
