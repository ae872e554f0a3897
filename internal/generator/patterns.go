package generator

import (
	"fmt"
	"math"
	"time"

	"merchantrisk/internal/model"
)

// Pattern names a fraud behavior that can be injected into a merchant's
// transactions.
type Pattern string

const (
	LateNightTrading      Pattern = "late_night_trading"
	SuddenSpike           Pattern = "sudden_spike"
	CustomerConcentration Pattern = "customer_concentration"
	VelocityAbuse         Pattern = "velocity_abuse"
	DeviceSwitching       Pattern = "device_switching"
	LocationHopping       Pattern = "location_hopping"
	PaymentMethodCycling  Pattern = "payment_method_cycling"
	RoundAmount           Pattern = "round_amount"
)

var Patterns = []Pattern{
	LateNightTrading, SuddenSpike, VelocityAbuse, DeviceSwitching,
	LocationHopping, PaymentMethodCycling, RoundAmount, CustomerConcentration,
}

const spikeMultiplier = 5

func ParsePattern(s string) (Pattern, error) {
	for _, p := range Patterns {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown fraud pattern %q", s)
}

// inject rewrites, in place, each transaction of merchantID with the given
// probability so that it exhibits pattern.
func (g *Generator) inject(txns []model.Transaction, merchantID string, pattern Pattern, probability float64) {
	var pool []string
	switch pattern {
	case CustomerConcentration, DeviceSwitching:
		pool = []string{g.uuid(), g.uuid(), g.uuid()}
	case LocationHopping:
		for i := 0; i < 5; i++ {
			pool = append(pool, places[g.rng.IntN(len(places))].city)
		}
	}

	for i := range txns {
		t := &txns[i]
		if t.MerchantID != merchantID || g.rng.Float64() >= probability {
			continue
		}
		switch pattern {
		case LateNightTrading:
			ts := t.Timestamp
			t.Timestamp = time.Date(ts.Year(), ts.Month(), ts.Day(), g.rng.IntN(6), ts.Minute(), ts.Second(), ts.Nanosecond(), ts.Location())
			t.TimeFlag = true
		case SuddenSpike:
			t.Amount = round2(t.Amount * spikeMultiplier)
			t.AmountFlag = true
		case CustomerConcentration:
			t.CustomerID = pick(g.rng, pool)
		case VelocityAbuse:
			t.Timestamp = t.Timestamp.Add(time.Duration(30+g.rng.IntN(271)) * time.Second)
			t.VelocityFlag = true
		case DeviceSwitching:
			t.DeviceID = pick(g.rng, pool)
			t.DeviceFlag = true
		case LocationHopping:
			t.CustomerLocation = pick(g.rng, pool)
		case PaymentMethodCycling:
			t.PaymentMethod = pick(g.rng, PaymentMethods)
		case RoundAmount:
			t.Amount = math.Round(t.Amount/100) * 100
			t.AmountFlag = true
		}
	}
}
