package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel error kinds surfaced across the engine. Callers classify with
// errors.Is / errors.As; everything else wraps one of these.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrKycRequired           = errors.New("kyc verification required")
	ErrInvalidTransition     = errors.New("invalid case status transition")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// LimitExceededError reports the first breached rolling window and the
// headroom that remained before the attempted transaction.
type LimitExceededError struct {
	Period        Period
	Limit         decimal.Decimal
	CurrentVolume decimal.Decimal
	Remaining     decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded for period %s: limit=%s current=%s remaining=%s",
		e.Period, e.Limit.StringFixed(2), e.CurrentVolume.StringFixed(2), e.Remaining.StringFixed(2))
}

// IsLimitExceeded reports whether err carries a LimitExceededError.
func IsLimitExceeded(err error) (*LimitExceededError, bool) {
	var le *LimitExceededError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
