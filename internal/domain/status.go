package domain

// OrderStatus is the payment order state machine. Stored statuses never move
// backwards; expiry is additionally evaluated lazily on read so a stale
// created/pending row past its deadline is surfaced as EXPIRED without a
// scheduler having run.
type OrderStatus string

const (
	StatusCreated  OrderStatus = "CREATED"
	StatusPending  OrderStatus = "PENDING"
	StatusPaid     OrderStatus = "PAID"
	StatusFailed   OrderStatus = "FAILED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusRefunded OrderStatus = "REFUNDED"
)

// Terminal reports whether no gateway signal may move the order further.
// REFUNDED is reachable from PAID only, out of band.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// Finalizable reports whether a gateway success/failure signal may still win
// the conditional transition.
func (s OrderStatus) Finalizable() bool {
	return s == StatusCreated || s == StatusPending
}
