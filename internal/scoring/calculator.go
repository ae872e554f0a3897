// Package scoring computes the eight behavioral fraud-risk sub-scores for one
// merchant's transaction window and combines them into a weighted composite.
//
// A Calculator is immutable after construction and never modifies the
// transactions it was given, so one instance may be used from several
// goroutines.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"merchantrisk/internal/model"
	"merchantrisk/internal/stats"
	"merchantrisk/internal/validate"
)

// rangeSlack absorbs float rounding in the composite sum; anything beyond it is
// reported as out of range. A composite within the slack above 1 is clamped to
// 1, the one place a score is clamped instead of rejected.
const rangeSlack = 1e-9

type scoreFunc func(c *Calculator) (float64, error)

var scoreFuncs = [metricCount]scoreFunc{
	LateNight:             (*Calculator).lateNight,
	SuddenSpike:           (*Calculator).suddenSpike,
	VelocityAbuse:         (*Calculator).velocityAbuse,
	DeviceSwitching:       (*Calculator).deviceSwitching,
	LocationHopping:       (*Calculator).locationHopping,
	PaymentCycling:        (*Calculator).paymentCycling,
	RoundAmount:           (*Calculator).roundAmount,
	CustomerConcentration: (*Calculator).customerConcentration,
}

type Calculator struct {
	txns         []model.Transaction
	times        []time.Time
	lookbackDays int
	weights      Weights
}

type Option func(*Calculator)

func WithWeights(w Weights) Option {
	return func(c *Calculator) {
		c.weights = w
	}
}

// New validates the input and the weights. The lookback is recorded as
// metadata; transactions are not filtered by it.
func New(txns []model.Transaction, lookbackDays int, opts ...Option) (*Calculator, error) {
	c := &Calculator{
		txns:         txns,
		lookbackDays: lookbackDays,
		weights:      DefaultWeights(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.weights.Validate(); err != nil {
		return nil, err
	}
	c.times = make([]time.Time, len(txns))
	for i, t := range txns {
		if t.Timestamp.IsZero() {
			return nil, invalid(CheckTimestamp, "", fmt.Errorf("%w: transaction %q", ErrInvalidTimestamp, t.TransactionID))
		}
		if !validate.MerchantID(t.MerchantID) {
			return nil, invalid(CheckMerchantID, "", fmt.Errorf("%w: %q", ErrInvalidMerchantID, t.MerchantID))
		}
		c.times[i] = t.Timestamp
	}
	return c, nil
}

// ComputeScores builds a Calculator and runs it once.
func ComputeScores(txns []model.Transaction, lookbackDays int, opts ...Option) (model.ScoreSet, error) {
	c, err := New(txns, lookbackDays, opts...)
	if err != nil {
		return model.ScoreSet{}, err
	}
	return c.Compute()
}

func (c *Calculator) LookbackDays() int {
	return c.lookbackDays
}

func (c *Calculator) Weights() Weights {
	return c.weights
}

// Compute evaluates every sub-score in Metric order and the composite. Any
// failing or out-of-range sub-score aborts the whole computation.
func (c *Calculator) Compute() (model.ScoreSet, error) {
	var out model.ScoreSet
	var composite float64
	for m := Metric(0); m < metricCount; m++ {
		v, err := c.Score(m)
		if err != nil {
			return model.ScoreSet{}, err
		}
		*field(&out, m) = v
		composite += c.weights[m] * v
	}
	if math.IsNaN(composite) || composite < 0 || composite > 1+rangeSlack {
		return model.ScoreSet{}, invalid(CheckScoreRange, "composite_risk_score", fmt.Errorf("%w: %v", ErrScoreOutOfRange, composite))
	}
	out.Composite = math.Min(composite, 1)
	return out, nil
}

// Score evaluates a single sub-score.
func (c *Calculator) Score(m Metric) (float64, error) {
	if m < 0 || m >= metricCount {
		return 0, fmt.Errorf("unknown metric %d", int(m))
	}
	v, err := scoreFuncs[m](c)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, invalid(CheckScoreRange, m.String(), fmt.Errorf("%w: %v", ErrScoreOutOfRange, v))
	}
	return v, nil
}

func isLateNight(hour int) bool {
	return hour >= 22 || hour <= 5
}

func isRoundAmount(amount float64) bool {
	return math.Mod(amount, 100) == 0 || math.Mod(amount, 1000) == 0
}

func (c *Calculator) lateNight() (float64, error) {
	if len(c.txns) == 0 {
		return 0, nil
	}
	late := 0
	for _, ts := range c.times {
		if isLateNight(ts.Hour()) {
			late++
		}
	}
	return float64(late) / float64(len(c.txns)), nil
}

func (c *Calculator) suddenSpike() (float64, error) {
	if len(c.txns) == 0 {
		return 0, nil
	}
	var r stats.Running
	for _, b := range stats.HourBuckets(c.times) {
		r.Add(float64(b.Count))
	}
	std := r.Std()
	if std <= 0 {
		return 0, nil
	}
	z := math.Max((r.Max()-r.Mean())/std, 0)
	return math.Min(z/3, 1), nil
}

func (c *Calculator) velocityAbuse() (float64, error) {
	if len(c.times) < 2 {
		return 0, nil
	}
	sorted := append([]time.Time(nil), c.times...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var r stats.Running
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1]).Seconds()
		if gap > 0 {
			r.Add(gap)
		}
	}
	if r.Count() == 0 {
		return 0, nil
	}
	if r.Mean() == 0 {
		return 1, nil
	}
	cv := r.Std() / r.Mean()
	return 1 / (1 + math.Exp(2-cv)), nil
}

func (c *Calculator) distinctPerHour(value func(model.Transaction) string, saturation float64) float64 {
	if len(c.txns) == 0 {
		return 0
	}
	values := make([]string, len(c.txns))
	for i, t := range c.txns {
		values[i] = value(t)
	}
	return math.Min(float64(stats.MaxDistinctPerHour(c.times, values))/saturation, 1)
}

func (c *Calculator) deviceSwitching() (float64, error) {
	return c.distinctPerHour(func(t model.Transaction) string { return t.DeviceID }, 5), nil
}

func (c *Calculator) locationHopping() (float64, error) {
	return c.distinctPerHour(func(t model.Transaction) string { return t.CustomerLocation }, 3), nil
}

func (c *Calculator) paymentCycling() (float64, error) {
	return c.distinctPerHour(func(t model.Transaction) string { return t.PaymentMethod }, 4), nil
}

func (c *Calculator) roundAmount() (float64, error) {
	if len(c.txns) == 0 {
		return 0, nil
	}
	round := 0
	for _, t := range c.txns {
		if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
			return 0, invalid(CheckAmount, RoundAmount.String(), fmt.Errorf("%w: transaction %q", ErrNonNumericAmount, t.TransactionID))
		}
		if isRoundAmount(t.Amount) {
			round++
		}
	}
	return float64(round) / float64(len(c.txns)), nil
}

// customerConcentration is a Gini coefficient over per-customer transaction counts.
func (c *Calculator) customerConcentration() (float64, error) {
	counts := make(map[string]int)
	for _, t := range c.txns {
		counts[t.CustomerID]++
	}
	n := len(counts)
	if n < 2 {
		return 0, nil
	}
	values := make([]int, 0, n)
	total := 0
	for _, v := range counts {
		values = append(values, v)
		total += v
	}
	if total == 0 {
		return 0, nil
	}
	sort.Ints(values)
	var weighted float64
	for i, v := range values {
		rank := i + 1
		weighted += float64(2*rank-n-1) * float64(v)
	}
	return math.Min(weighted/(float64(n)*float64(total)), 1), nil
}
