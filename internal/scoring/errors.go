package scoring

import (
	"errors"
	"fmt"
)

// Check names the validation step that rejected an input or a result.
type Check string

const (
	CheckTimestamp  Check = "timestamp"
	CheckMerchantID Check = "merchant_id"
	CheckWeights    Check = "weights"
	CheckAmount     Check = "amount"
	CheckScoreRange Check = "score_range"
)

var (
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidMerchantID = errors.New("invalid merchant id")
	ErrWeightSum         = errors.New("weights must sum to 1.0")
	ErrNonNumericAmount  = errors.New("non-numeric amount")
	ErrScoreOutOfRange   = errors.New("score outside [0,1]")
)

type ValidationError struct {
	Check  Check
	Metric string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("%s check failed for %s: %v", e.Check, e.Metric, e.Err)
	}
	return fmt.Sprintf("%s check failed: %v", e.Check, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(check Check, metric string, err error) error {
	return &ValidationError{Check: check, Metric: metric, Err: err}
}
