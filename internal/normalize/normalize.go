package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
	"merchantrisk/internal/validate"
)

var (
	ErrMerchantID = errors.New("invalid merchant id")
	ErrAmount     = errors.New("invalid amount")
	ErrStatus     = errors.New("unknown transaction status")
)

// TransactionFields is the loosely typed form of a transaction as read from
// a line or a JSON document, before validation.
type TransactionFields struct {
	TransactionID      string
	MerchantID         string
	ReceiverMerchantID string
	Timestamp          string
	Amount             string
	PaymentMethod      string
	Status             string
	ProductCategory    string
	Platform           string
	CustomerLocation   string
	CustomerID         string
	DeviceID           string
	Extras             map[string]string
	Raw                string
}

func Normalize(fields TransactionFields, cfg *config.Config) (model.Transaction, error) {
	merchantID := strings.TrimSpace(fields.MerchantID)
	if !validate.MerchantID(merchantID) {
		return model.Transaction{}, fmt.Errorf("%w: %q", ErrMerchantID, merchantID)
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(fields.Amount), 64)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("%w: %q", ErrAmount, fields.Amount)
	}
	if err := validate.Amount(amount); err != nil {
		return model.Transaction{}, fmt.Errorf("%w: %w", ErrAmount, err)
	}

	status, err := ParseStatus(fields.Status)
	if err != nil {
		return model.Transaction{}, err
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	id := strings.TrimSpace(fields.TransactionID)
	if id == "" {
		id = NewTransactionID()
	}
	method := strings.TrimSpace(fields.PaymentMethod)
	if method == "" {
		method = cfg.Ingest.Parser.DefaultPaymentMethod
	}

	return model.Transaction{
		TransactionID:      id,
		MerchantID:         merchantID,
		ReceiverMerchantID: strings.TrimSpace(fields.ReceiverMerchantID),
		Timestamp:          ts,
		Amount:             amount,
		PaymentMethod:      method,
		Status:             status,
		ProductCategory:    strings.TrimSpace(fields.ProductCategory),
		Platform:           strings.TrimSpace(fields.Platform),
		CustomerLocation:   strings.TrimSpace(fields.CustomerLocation),
		CustomerID:         strings.TrimSpace(fields.CustomerID),
		DeviceID:           strings.TrimSpace(fields.DeviceID),
		VelocityFlag:       flag(fields.Extras, "velocity_flag"),
		AmountFlag:         flag(fields.Extras, "amount_flag"),
		TimeFlag:           flag(fields.Extras, "time_flag"),
		DeviceFlag:         flag(fields.Extras, "device_flag"),
	}, nil
}

// NewTransactionID returns an id of the form TXN followed by 12 upper-case hex digits.
func NewTransactionID() string {
	return "TXN" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// ParseStatus maps the vocabulary of upstream systems onto the three stored
// statuses. An empty status means success.
func ParseStatus(status string) (model.TransactionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "success", "completed", "complete", "ok", "approved", "settled":
		return model.StatusSuccess, nil
	case "failed", "failure", "fail", "declined", "rejected", "error":
		return model.StatusFailed, nil
	case "pending", "processing", "authorized", "initiated":
		return model.StatusPending, nil
	}
	return "", fmt.Errorf("%w: %q", ErrStatus, status)
}

func flag(extras map[string]string, key string) bool {
	v, ok := extras[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC3339 variants, zone-less layouts interpreted in
// loc, and unix seconds or milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if strings.Contains(layout, "Z07") {
			if t, err := time.Parse(layout, value); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
