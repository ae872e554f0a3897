// Package summary rolls transactions up into per-merchant daily totals.
package summary

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"merchantrisk/internal/model"
)

type dayKey struct {
	merchantID string
	date       string
}

type accumulator struct {
	summary   model.DailySummary
	total     decimal.Decimal
	customers map[string]struct{}
	methods   map[string]struct{}
}

// Daily groups transactions by merchant and calendar date (in each
// timestamp's own location) and returns summaries ordered by merchant, then date.
// Days without transactions are omitted.
func Daily(txns []model.Transaction) []model.DailySummary {
	groups := make(map[dayKey]*accumulator)
	for _, t := range txns {
		if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
			continue
		}
		y, m, d := t.Timestamp.Date()
		key := dayKey{merchantID: t.MerchantID, date: t.Timestamp.Format("2006-01-02")}
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{
				summary: model.DailySummary{
					MerchantID: t.MerchantID,
					Date:       time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
					MaxAmount:  t.Amount,
					MinAmount:  t.Amount,
				},
				total:     decimal.Zero,
				customers: make(map[string]struct{}),
				methods:   make(map[string]struct{}),
			}
			groups[key] = acc
		}
		acc.summary.TransactionCount++
		acc.total = acc.total.Add(decimal.NewFromFloat(t.Amount))
		acc.summary.MaxAmount = math.Max(acc.summary.MaxAmount, t.Amount)
		acc.summary.MinAmount = math.Min(acc.summary.MinAmount, t.Amount)
		acc.customers[t.CustomerID] = struct{}{}
		acc.methods[t.PaymentMethod] = struct{}{}
	}

	out := make([]model.DailySummary, 0, len(groups))
	for _, acc := range groups {
		s := acc.summary
		s.TotalVolume = acc.total.Round(2).InexactFloat64()
		s.AverageAmount = acc.total.Div(decimal.NewFromInt(int64(s.TransactionCount))).Round(2).InexactFloat64()
		s.UniqueCustomers = len(acc.customers)
		s.UniquePaymentMethods = len(acc.methods)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MerchantID != out[j].MerchantID {
			return out[i].MerchantID < out[j].MerchantID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
