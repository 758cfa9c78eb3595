package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceSnapshot is the financial record frozen onto an order at creation.
// It is never recomputed from later pricing rules; accounting and payouts
// read these fields, not the event catalog.
type PriceSnapshot struct {
	BasePricePerSeat   decimal.Decimal
	PlatformFeePercent decimal.Decimal
	PlatformFeeAmount  decimal.Decimal
	HostEarningPerSeat decimal.Decimal
}

type Order struct {
	ID       uuid.UUID
	Ref      string
	BuyerID  uuid.UUID
	EventID  uuid.UUID
	Seats    int
	Currency string
	Amount   decimal.Decimal
	Status   OrderStatus
	Snapshot PriceSnapshot

	Provider          string
	ProviderPaymentID string // set only on success
	FailureReason     string // set only on failure

	ReservationKey string

	// Retry linkage. ParentID points at the previous attempt, RootID at the
	// first order of the chain. Exactly one order per chain ever carries
	// IsFinal; only that order feeds reconciliation.
	ParentID *uuid.UUID
	RootID   uuid.UUID
	IsFinal  bool

	ExpiresAt time.Time
	CreatedAt time.Time
}

// EffectiveStatus is the lazily evaluated status: a created/pending order past
// its deadline reads as EXPIRED even before any sweep has touched the row.
func (o *Order) EffectiveStatus(now time.Time) OrderStatus {
	if o.Status.Finalizable() && now.After(o.ExpiresAt) {
		return StatusExpired
	}
	return o.Status
}

// ComputeAmount derives the authoritative total and snapshot for an order of
// `seats` tickets at `basePrice` each. The platform fee is rounded to the
// whole currency unit (499.00 x 10% -> 50.00, total 549.00).
func ComputeAmount(basePrice decimal.Decimal, seats int, feePercent decimal.Decimal) (decimal.Decimal, PriceSnapshot) {
	n := decimal.NewFromInt(int64(seats))
	hundred := decimal.NewFromInt(100)

	fee := basePrice.Mul(n).Mul(feePercent).Div(hundred).Round(0)
	total := basePrice.Mul(n).Add(fee)
	hostPerSeat := basePrice.Sub(basePrice.Mul(feePercent).Div(hundred)).Round(2)

	return total, PriceSnapshot{
		BasePricePerSeat:   basePrice,
		PlatformFeePercent: feePercent,
		PlatformFeeAmount:  fee,
		HostEarningPerSeat: hostPerSeat,
	}
}

// NewOrderRef builds the human-shareable order reference:
// timestamp + event fragment + random suffix.
func NewOrderRef(eventID uuid.UUID, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	eventFrag := strings.ToUpper(eventID.String()[:6])
	return fmt.Sprintf("PO-%s-%s-%s", now.UTC().Format("20060102150405"), eventFrag, suffix)
}
