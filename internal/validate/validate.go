// Package validate holds the field checks shared by ingest, storage and the HTTP layer.
package validate

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"merchantrisk/internal/model"
)

const MaxAmount = 1_000_000

var merchantIDPattern = regexp.MustCompile(`^M[0-9]{7}$`)

var (
	ErrAmount        = errors.New("amount out of range")
	ErrRiskScore     = errors.New("risk score out of range")
	ErrBusinessModel = errors.New("unknown business model")
)

// MerchantID reports whether id is the letter M followed by seven digits.
func MerchantID(id string) bool {
	return merchantIDPattern.MatchString(id)
}

func Amount(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v >= MaxAmount {
		return fmt.Errorf("%w: %v", ErrAmount, v)
	}
	return nil
}

func RiskScore(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrRiskScore, v)
	}
	return nil
}

func BusinessModel(v model.BusinessModel) error {
	switch v {
	case model.BusinessOnline, model.BusinessOffline, model.BusinessHybrid:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrBusinessModel, v)
}
