// Package timeline scans a merchant's transactions for discrete anomalies:
// round amounts, late-night activity and hourly volume spikes.
package timeline

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"merchantrisk/internal/model"
	"merchantrisk/internal/stats"
)

const (
	SpikeMinTransactions = 10
	SpikeZThreshold      = 2.5
	SpikeHighZThreshold  = 3.0
)

type Detector struct {
	logger *slog.Logger
}

func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect never fails. Events come back grouped by scanner: round amounts,
// then late-night, then spikes.
func (d *Detector) Detect(txns []model.Transaction) []model.TimelineEvent {
	out := make([]model.TimelineEvent, 0)
	out = append(out, d.roundAmounts(txns)...)
	out = append(out, lateNight(txns)...)
	out = append(out, spikes(txns)...)
	return out
}

func (d *Detector) roundAmounts(txns []model.Transaction) []model.TimelineEvent {
	out := make([]model.TimelineEvent, 0)
	for _, t := range txns {
		if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.TransactionID == "" || t.PaymentMethod == "" {
			if d.logger != nil {
				d.logger.Warn("skipping malformed transaction in round amount scan",
					"transaction_id", t.TransactionID,
					"merchant_id", t.MerchantID,
				)
			}
			continue
		}
		if math.Mod(t.Amount, 100) != 0 && math.Mod(t.Amount, 1000) != 0 {
			continue
		}
		out = append(out, model.TimelineEvent{
			EventType:  model.EventRoundAmount,
			Timestamp:  t.Timestamp,
			MerchantID: t.MerchantID,
			Severity:   model.SeverityLow,
			Details: map[string]any{
				"amount":         t.Amount,
				"transaction_id": t.TransactionID,
				"payment_method": t.PaymentMethod,
			},
		})
	}
	return out
}

func lateNight(txns []model.Transaction) []model.TimelineEvent {
	out := make([]model.TimelineEvent, 0)
	for _, t := range txns {
		hour := t.Timestamp.Hour()
		if hour < 22 && hour > 5 {
			continue
		}
		out = append(out, model.TimelineEvent{
			EventType:  model.EventLateNight,
			Timestamp:  t.Timestamp,
			MerchantID: t.MerchantID,
			Severity:   model.SeverityMedium,
			Details: map[string]any{
				"amount":         t.Amount,
				"transaction_id": t.TransactionID,
				"hour":           hour,
			},
		})
	}
	return out
}

// spikes attributes every event to the first transaction's merchant; callers
// pass one merchant's transactions at a time.
func spikes(txns []model.Transaction) []model.TimelineEvent {
	out := make([]model.TimelineEvent, 0)
	if len(txns) < SpikeMinTransactions {
		return out
	}
	merchantID := txns[0].MerchantID

	stamps := make([]time.Time, 0, len(txns))
	for _, t := range txns {
		stamps = append(stamps, t.Timestamp)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	buckets := stats.HourBuckets(stamps)
	var r stats.Running
	for _, b := range buckets {
		r.Add(float64(b.Count))
	}
	mean, std := r.Mean(), r.Std()
	if std == 0 {
		return out
	}
	threshold := mean + SpikeZThreshold*std
	for _, b := range buckets {
		z := (float64(b.Count) - mean) / std
		if z <= SpikeZThreshold {
			continue
		}
		severity := model.SeverityMedium
		if z > SpikeHighZThreshold {
			severity = model.SeverityHigh
		}
		out = append(out, model.TimelineEvent{
			EventType:  model.EventSuddenSpike,
			Timestamp:  b.Start,
			MerchantID: merchantID,
			Severity:   severity,
			Details: map[string]any{
				"transaction_count": b.Count,
				"normal_average":    stats.Round(mean, 2),
				"z_score":           stats.Round(z, 2),
				"hourly_threshold":  stats.Round(threshold, 2),
			},
		})
	}
	return out
}
