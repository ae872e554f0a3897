package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
	"merchantrisk/internal/normalize"
	"merchantrisk/internal/telemetry"
)

const (
	SourceREST     = "rest"
	SourceKafka    = "kafka"
	SourceFileTail = "file_tail"
)

var errChannelFull = errors.New("ingest queue full")

func SendNonBlocking(ctx context.Context, out chan<- model.IngestedTransaction, txn model.IngestedTransaction, logger *slog.Logger) bool {
	select {
	case out <- txn:
		telemetry.TransactionsIngested.WithLabelValues(txn.Source).Inc()
		return true
	case <-ctx.Done():
		return false
	default:
		telemetry.TransactionsRejected.WithLabelValues("channel_full").Inc()
		if logger != nil {
			logger.Warn("ingest channel full, dropping transaction", "transaction_id", txn.Transaction.TransactionID, "merchant_id", txn.Transaction.MerchantID)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// processLine parses and normalizes one line and forwards it. Unparseable
// lines are counted and dropped.
func processLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.IngestedTransaction, logger *slog.Logger, line, source string) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return
	}
	txn, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		telemetry.TransactionsRejected.WithLabelValues("invalid").Inc()
		if logger != nil {
			logger.Warn("normalize error", "source", source, "err", err)
		}
		return
	}
	SendNonBlocking(ctx, out, model.IngestedTransaction{Transaction: txn, Source: source, ReceivedAt: time.Now().UTC()}, logger)
}
