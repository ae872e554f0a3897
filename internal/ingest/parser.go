package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"merchantrisk/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+\-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-z_]+)=("[^"]*"|[^\s]+)`)
)

// Key aliases in priority order.
var (
	aliasTransactionID = []string{"transaction_id", "txn_id", "txn", "id"}
	aliasMerchantID    = []string{"merchant_id", "merchant", "mid"}
	aliasReceiver      = []string{"receiver_merchant_id", "receiver", "receiver_id"}
	aliasTimestamp     = []string{"timestamp", "time", "ts", "created_at"}
	aliasAmount        = []string{"amount", "amt", "value"}
	aliasPayment       = []string{"payment_method", "method", "payment"}
	aliasStatus        = []string{"status", "result", "state"}
	aliasCategory      = []string{"product_category", "category"}
	aliasPlatform      = []string{"platform", "channel"}
	aliasLocation      = []string{"customer_location", "location", "city"}
	aliasCustomer      = []string{"customer_id", "customer", "cust_id"}
	aliasDevice        = []string{"device_id", "device"}
)

// positional is the column order assumed for header-less CSV.
var positional = []string{
	"transaction_id", "merchant_id", "timestamp", "amount", "payment_method",
	"status", "customer_id", "device_id", "customer_location",
}

type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.TransactionFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) *normalize.TransactionFields {
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	if _, ok := kv["timestamp"]; !ok {
		if m := reTimestamp.FindStringSubmatch(line); len(m) == 2 {
			kv["timestamp"] = strings.TrimSpace(m[1])
		}
	}
	return fieldsFromMap(kv)
}

func fieldsFromMap(values map[string]string) *normalize.TransactionFields {
	return &normalize.TransactionFields{
		TransactionID:      firstNonEmpty(values, aliasTransactionID...),
		MerchantID:         firstNonEmpty(values, aliasMerchantID...),
		ReceiverMerchantID: firstNonEmpty(values, aliasReceiver...),
		Timestamp:          firstNonEmpty(values, aliasTimestamp...),
		Amount:             firstNonEmpty(values, aliasAmount...),
		PaymentMethod:      firstNonEmpty(values, aliasPayment...),
		Status:             firstNonEmpty(values, aliasStatus...),
		ProductCategory:    firstNonEmpty(values, aliasCategory...),
		Platform:           firstNonEmpty(values, aliasPlatform...),
		CustomerLocation:   firstNonEmpty(values, aliasLocation...),
		CustomerID:         firstNonEmpty(values, aliasCustomer...),
		DeviceID:           firstNonEmpty(values, aliasDevice...),
		Extras:             values,
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// CSVParser remembers the first header row it sees and maps later rows by it.
type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.TransactionFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	header := p.header
	if header == nil {
		header = positional
	}
	values := make(map[string]string, len(record))
	for i, name := range header {
		if i >= len(record) {
			break
		}
		values[name] = strings.TrimSpace(record[i])
	}
	return fieldsFromMap(values), nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "transaction_id", "txn_id", "merchant_id", "merchant", "timestamp", "amount", "status":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
