package lot

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotOpen           = errors.New("lot is not open for bids")
	ErrNotImprovement    = errors.New("bid does not improve the current best value")
	ErrNotParticipant    = errors.New("supplier is not eligible for this lot")
	ErrForbidden         = errors.New("forbidden")
	ErrWindowExpired     = errors.New("cancellation window expired")
	ErrModeNotSupported  = errors.New("operation not supported in this dispute mode")
	ErrDuplicateOffer    = errors.New("supplier already submitted a sealed offer")
	ErrInvalidValue      = errors.New("invalid bid value")
	ErrBidNotFound       = errors.New("bid not found")
	ErrLotNotFound       = errors.New("lot not found")
)

// RejectionError is returned when a command is refused. It wraps one of the
// sentinel errors above. BestValue is set when a bid failed to improve on it.
type RejectionError struct {
	Err       error
	Reason    string
	BestValue decimal.NullDecimal
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

func reject(err error, format string, args ...any) *RejectionError {
	return &RejectionError{Err: err, Reason: fmt.Sprintf(format, args...)}
}
