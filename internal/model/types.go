package model

import "time"

type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
	StatusPending TransactionStatus = "pending"
)

type Transaction struct {
	TransactionID      string            `json:"transaction_id"`
	MerchantID         string            `json:"merchant_id"`
	ReceiverMerchantID string            `json:"receiver_merchant_id,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
	Amount             float64           `json:"amount"`
	PaymentMethod      string            `json:"payment_method"`
	Status             TransactionStatus `json:"status"`
	ProductCategory    string            `json:"product_category,omitempty"`
	Platform           string            `json:"platform,omitempty"`
	CustomerLocation   string            `json:"customer_location"`
	CustomerID         string            `json:"customer_id"`
	DeviceID           string            `json:"device_id"`
	VelocityFlag       bool              `json:"velocity_flag"`
	AmountFlag         bool              `json:"amount_flag"`
	TimeFlag           bool              `json:"time_flag"`
	DeviceFlag         bool              `json:"device_flag"`
}

type BusinessModel string

const (
	BusinessOnline  BusinessModel = "Online"
	BusinessOffline BusinessModel = "Offline"
	BusinessHybrid  BusinessModel = "Hybrid"
)

type Merchant struct {
	MerchantID        string        `json:"merchant_id"`
	BusinessName      string        `json:"business_name"`
	BusinessType      string        `json:"business_type"`
	RegistrationDate  time.Time     `json:"registration_date"`
	BusinessModel     BusinessModel `json:"business_model"`
	ProductCategory   string        `json:"product_category"`
	AverageTicketSize float64       `json:"average_ticket_size"`
	GSTStatus         bool          `json:"gst_status"`
	EPFORegistered    bool          `json:"epfo_registered"`
	RegisteredAddress string        `json:"registered_address"`
	City              string        `json:"city"`
	State             string        `json:"state"`
	ReportedRevenue   float64       `json:"reported_revenue"`
	EmployeeCount     int           `json:"employee_count"`
	BankAccount       string        `json:"bank_account"`
}

// ScoreSet holds the eight behavioral sub-scores and their weighted composite.
// Every value lies in [0,1].
type ScoreSet struct {
	LateNight             float64 `json:"late_night_score"`
	SuddenSpike           float64 `json:"sudden_spike_score"`
	VelocityAbuse         float64 `json:"velocity_abuse_score"`
	DeviceSwitching       float64 `json:"device_switching_score"`
	LocationHopping       float64 `json:"location_hopping_score"`
	PaymentCycling        float64 `json:"payment_cycling_score"`
	RoundAmount           float64 `json:"round_amount_score"`
	CustomerConcentration float64 `json:"customer_concentration_score"`
	Composite             float64 `json:"composite_risk_score"`
}

type RiskMetrics struct {
	MerchantID   string    `json:"merchant_id"`
	Timestamp    time.Time `json:"timestamp"`
	LookbackDays int       `json:"lookback_days"`
	Scores       ScoreSet  `json:"metrics"`
}

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

type EventType string

const (
	EventRoundAmount EventType = "Round Amount Transaction"
	EventLateNight   EventType = "Late-Night Transaction"
	EventSuddenSpike EventType = "Sudden Transaction Spike"
)

type TimelineEvent struct {
	EventType  EventType      `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	MerchantID string         `json:"merchant_id"`
	Details    map[string]any `json:"details"`
	Severity   Severity       `json:"severity"`
}

type DailySummary struct {
	MerchantID           string    `json:"merchant_id"`
	Date                 time.Time `json:"date"`
	TransactionCount     int       `json:"transaction_count"`
	TotalVolume          float64   `json:"total_volume"`
	AverageAmount        float64   `json:"average_amount"`
	MaxAmount            float64   `json:"max_amount"`
	MinAmount            float64   `json:"min_amount"`
	UniqueCustomers      int       `json:"unique_customers"`
	UniquePaymentMethods int       `json:"unique_payment_methods"`
}

// IngestedTransaction is a normalized transaction tagged with the source that delivered it.
type IngestedTransaction struct {
	Transaction Transaction
	Source      string
	ReceivedAt  time.Time
}
