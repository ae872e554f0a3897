// Package generator produces synthetic merchants and transactions, optionally
// seeded with known fraud patterns, for demos and end-to-end checks.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
)

var BusinessTypes = []string{
	"Electronics", "Fashion", "Food & Beverage", "Retail",
	"Technology", "Services", "Healthcare", "Education",
	"Entertainment", "Automotive", "Real Estate", "Construction",
	"Manufacturing", "Agriculture", "Logistics", "Travel & Tourism",
	"Financial Services", "Consulting", "Media", "Telecommunications",
	"Energy", "Mining", "Pharmaceuticals", "E-commerce",
	"Sports & Recreation", "Beauty & Wellness",
}

var PaymentMethods = []string{
	"Credit Card", "Debit Card", "Net Banking",
	"UPI", "Cash", "Mobile Wallet",
	"Cryptocurrency", "Bank Transfer", "RTGS",
	"NEFT", "Check", "Digital Wallet",
	"QR Code Payment", "Contactless Card",
	"Buy Now Pay Later", "EMI", "Gift Card",
	"Prepaid Card",
}

var Platforms = []string{
	"Web", "Mobile", "POS",
	"Mobile App", "Desktop App", "API Integration",
	"Social Media", "Marketplace", "Smart TV",
	"IoT Device", "Kiosk", "Voice Assistant",
	"Chat Bot", "WhatsApp", "Telegram",
}

var places = []struct{ city, state string }{
	{"Mumbai", "Maharashtra"}, {"Pune", "Maharashtra"}, {"Delhi", "Delhi"},
	{"Bengaluru", "Karnataka"}, {"Chennai", "Tamil Nadu"}, {"Hyderabad", "Telangana"},
	{"Kolkata", "West Bengal"}, {"Ahmedabad", "Gujarat"}, {"Jaipur", "Rajasthan"},
	{"Lucknow", "Uttar Pradesh"}, {"Kochi", "Kerala"}, {"Indore", "Madhya Pradesh"},
}

var (
	namePrefixes = []string{"Apex", "Bright", "Crest", "Delta", "Evergreen", "Fusion", "Golden", "Harbor", "Indus", "Jade"}
	nameSuffixes = []string{"Traders", "Enterprises", "Solutions", "Retail", "Exports", "Industries", "Mart", "Ventures"}
	streets      = []string{"MG Road", "Station Road", "Park Street", "Ring Road", "Market Lane", "Lake View Road"}
	statuses     = []model.TransactionStatus{model.StatusSuccess, model.StatusFailed, model.StatusPending}
)

type Dataset struct {
	Merchants    []model.Merchant
	Transactions []model.Transaction
	// Injected records which merchants received which fraud pattern.
	Injected map[string]Pattern
}

type Generator struct {
	cfg config.GeneratorConfig
	src *rand.ChaCha8
	rng *rand.Rand
	now func() time.Time
}

// New returns a generator. A zero seed draws a random one.
func New(cfg config.GeneratorConfig) *Generator {
	if cfg.Days <= 0 {
		cfg.Days = 30
	}
	if cfg.DailyMin <= 0 {
		cfg.DailyMin = 10
	}
	if cfg.DailyMax < cfg.DailyMin {
		cfg.DailyMax = cfg.DailyMin
	}
	if cfg.AmountMax <= cfg.AmountMin {
		cfg.AmountMin, cfg.AmountMax = 100, 10000
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int64()
	}
	var key [32]byte
	for i := 0; i < 8; i++ {
		key[i] = byte(seed >> (8 * i))
	}
	src := rand.NewChaCha8(key)
	return &Generator{cfg: cfg, src: src, rng: rand.New(src), now: time.Now}
}

// WithClock pins "now" for reproducible output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

func (g *Generator) Dataset(merchantCount int, fraudFraction float64) (Dataset, error) {
	if merchantCount <= 0 {
		return Dataset{}, errors.New("merchant_count must be positive")
	}
	if math.IsNaN(fraudFraction) || fraudFraction < 0 || fraudFraction > 1 {
		return Dataset{}, errors.New("fraud_percentage must be between 0 and 1")
	}
	merchants := g.Merchants(merchantCount)
	txns := g.Transactions(merchants)

	fraudCount := int(float64(merchantCount) * fraudFraction)
	injected := make(map[string]Pattern, fraudCount)
	for _, idx := range g.rng.Perm(len(merchants))[:fraudCount] {
		m := merchants[idx]
		pattern := Patterns[g.rng.IntN(len(Patterns))]
		probability := 0.05 + g.rng.Float64()*0.15
		g.inject(txns, m.MerchantID, pattern, probability)
		injected[m.MerchantID] = pattern
	}
	return Dataset{Merchants: merchants, Transactions: txns, Injected: injected}, nil
}

func (g *Generator) Merchants(count int) []model.Merchant {
	seen := make(map[string]struct{}, count)
	now := g.now().UTC()
	out := make([]model.Merchant, 0, count)
	for len(out) < count {
		id := fmt.Sprintf("M%07d", g.rng.IntN(10_000_000))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		place := places[g.rng.IntN(len(places))]
		out = append(out, model.Merchant{
			MerchantID:        id,
			BusinessName:      g.businessName(),
			BusinessType:      pick(g.rng, BusinessTypes),
			RegistrationDate:  now.Add(-time.Duration(g.rng.Int64N(int64(5 * 365 * 24 * time.Hour)))).Truncate(time.Second),
			BusinessModel:     pick(g.rng, []model.BusinessModel{model.BusinessOnline, model.BusinessOffline, model.BusinessHybrid}),
			ProductCategory:   pick(g.rng, BusinessTypes),
			AverageTicketSize: round2(100 + g.rng.Float64()*9900),
			GSTStatus:         g.rng.IntN(2) == 0,
			EPFORegistered:    g.rng.IntN(2) == 0,
			RegisteredAddress: fmt.Sprintf("%d, %s, %s, %s", 1+g.rng.IntN(999), pick(g.rng, streets), place.city, place.state),
			City:              place.city,
			State:             place.state,
			ReportedRevenue:   round2(100_000 + g.rng.Float64()*9_900_000),
			EmployeeCount:     1 + g.rng.IntN(1000),
			BankAccount:       fmt.Sprintf("%d", 10_000_000+g.rng.IntN(90_000_000)),
		})
	}
	return out
}

// Transactions generates business-hour activity across the configured number
// of days, with a daily volume drawn from [DailyMin, DailyMax].
func (g *Generator) Transactions(merchants []model.Merchant) []model.Transaction {
	out := make([]model.Transaction, 0)
	if len(merchants) == 0 {
		return out
	}
	seen := make(map[string]struct{})
	now := g.now()
	for d := 0; d < g.cfg.Days; d++ {
		active := g.activeMerchants(merchants)
		volume := g.cfg.DailyMin + g.rng.IntN(g.cfg.DailyMax-g.cfg.DailyMin+1)
		for i := 0; i < volume; i++ {
			sender := active[g.rng.IntN(len(active))]
			receiver := ""
			if len(active) > 1 {
				for {
					r := active[g.rng.IntN(len(active))]
					if r.MerchantID != sender.MerchantID {
						receiver = r.MerchantID
						break
					}
				}
			}
			out = append(out, model.Transaction{
				TransactionID:      g.transactionID(seen),
				MerchantID:         sender.MerchantID,
				ReceiverMerchantID: receiver,
				Timestamp:          g.businessHour(now),
				Amount:             round2(g.cfg.AmountMin + g.rng.Float64()*(g.cfg.AmountMax-g.cfg.AmountMin)),
				PaymentMethod:      pick(g.rng, PaymentMethods),
				Status:             pick(g.rng, statuses),
				ProductCategory:    sender.ProductCategory,
				Platform:           pick(g.rng, Platforms),
				CustomerLocation:   sender.City,
				CustomerID:         g.uuid(),
				DeviceID:           g.uuid(),
			})
		}
	}
	return out
}

func (g *Generator) activeMerchants(merchants []model.Merchant) []model.Merchant {
	lo := min(5, len(merchants))
	n := lo + g.rng.IntN(len(merchants)-lo+1)
	perm := g.rng.Perm(len(merchants))
	out := make([]model.Merchant, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, merchants[idx])
	}
	return out
}

// businessHour picks a time between 09:00 and 17:59 on one of the last 30 days.
func (g *Generator) businessHour(now time.Time) time.Time {
	day := now.AddDate(0, 0, -g.rng.IntN(31))
	return time.Date(day.Year(), day.Month(), day.Day(), 9+g.rng.IntN(9), g.rng.IntN(60), g.rng.IntN(60), 0, day.Location())
}

func (g *Generator) transactionID(seen map[string]struct{}) string {
	for {
		id := "TXN" + strings.ToUpper(strings.ReplaceAll(g.uuid(), "-", "")[:12])
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			return id
		}
	}
}

func (g *Generator) uuid() string {
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (g *Generator) businessName() string {
	return pick(g.rng, namePrefixes) + " " + pick(g.rng, nameSuffixes)
}

func pick[T any](rng *rand.Rand, values []T) T {
	return values[rng.IntN(len(values))]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
