package scoring

import (
	"fmt"
	"math"

	"merchantrisk/internal/model"
)

// Metric enumerates the behavioral sub-scores in their evaluation order.
type Metric int

const (
	LateNight Metric = iota
	SuddenSpike
	VelocityAbuse
	DeviceSwitching
	LocationHopping
	PaymentCycling
	RoundAmount
	CustomerConcentration
	metricCount
)

var metricNames = [metricCount]string{
	LateNight:             "late_night_score",
	SuddenSpike:           "sudden_spike_score",
	VelocityAbuse:         "velocity_abuse_score",
	DeviceSwitching:       "device_switching_score",
	LocationHopping:       "location_hopping_score",
	PaymentCycling:        "payment_cycling_score",
	RoundAmount:           "round_amount_score",
	CustomerConcentration: "customer_concentration_score",
}

func (m Metric) String() string {
	if m < 0 || m >= metricCount {
		return fmt.Sprintf("metric(%d)", int(m))
	}
	return metricNames[m]
}

// Metrics returns every sub-score in evaluation order.
func Metrics() []Metric {
	out := make([]Metric, 0, metricCount)
	for m := Metric(0); m < metricCount; m++ {
		out = append(out, m)
	}
	return out
}

// Weights maps each sub-score to its share of the composite.
type Weights [metricCount]float64

func DefaultWeights() Weights {
	return Weights{
		LateNight:             0.15,
		SuddenSpike:           0.15,
		VelocityAbuse:         0.15,
		DeviceSwitching:       0.10,
		LocationHopping:       0.10,
		PaymentCycling:        0.10,
		RoundAmount:           0.10,
		CustomerConcentration: 0.15,
	}
}

const weightTolerance = 0.01

func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

func (w Weights) Validate() error {
	for m, v := range w {
		if math.IsNaN(v) || v < 0 {
			return invalid(CheckWeights, Metric(m).String(), fmt.Errorf("%w: negative weight %v", ErrWeightSum, v))
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return invalid(CheckWeights, "", fmt.Errorf("%w: got %.4f", ErrWeightSum, sum))
	}
	return nil
}

// field returns the ScoreSet slot that stores m.
func field(s *model.ScoreSet, m Metric) *float64 {
	switch m {
	case LateNight:
		return &s.LateNight
	case SuddenSpike:
		return &s.SuddenSpike
	case VelocityAbuse:
		return &s.VelocityAbuse
	case DeviceSwitching:
		return &s.DeviceSwitching
	case LocationHopping:
		return &s.LocationHopping
	case PaymentCycling:
		return &s.PaymentCycling
	case RoundAmount:
		return &s.RoundAmount
	case CustomerConcentration:
		return &s.CustomerConcentration
	}
	return nil
}

// Value reads one sub-score from a ScoreSet.
func Value(s model.ScoreSet, m Metric) float64 {
	if p := field(&s, m); p != nil {
		return *p
	}
	return 0
}
