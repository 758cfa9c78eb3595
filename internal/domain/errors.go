package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrReservationInvalid  = errors.New("reservation invalid")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrOrderNotFinalizable = errors.New("order not finalizable")
)

// IsRetryable reports whether an operation may be retried unchanged.
// Serialization failures are the only transient class the engine produces.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationFailure)
}

// AmountMismatchError is returned when the caller's claimed amount does not
// equal the server-computed total. Expected carries the correct figure so the
// caller can retry with the right value.
type AmountMismatchError struct {
	Expected decimal.Decimal
	Claimed  decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: expected %s, got %s", e.Expected.StringFixed(2), e.Claimed.StringFixed(2))
}

// DuplicateActiveOrderError carries the reference of the existing non-terminal
// order for the same (buyer, event) so the caller can resume it.
type DuplicateActiveOrderError struct {
	ExistingRef string
}

func (e *DuplicateActiveOrderError) Error() string {
	return fmt.Sprintf("active order already exists: %s", e.ExistingRef)
}
