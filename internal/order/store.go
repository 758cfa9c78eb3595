package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/shopspring/decimal"
)

// Store is the persistence contract shared by the lifecycle manager and the
// finalizer. The Transition* methods are single conditional updates keyed on
// the current status; their won result is the only trigger for side effects.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error

	GetReservation(ctx context.Context, key string) (*domain.Reservation, error)
	GetEventHost(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error)

	LatestOrder(ctx context.Context, tx pgx.Tx, buyerID, eventID uuid.UUID) (*domain.Order, error)
	InsertOrder(ctx context.Context, tx pgx.Tx, o *domain.Order) error
	MarkPending(ctx context.Context, ref string) error
	GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error)

	TransitionToPaid(ctx context.Context, tx pgx.Tx, ref, providerPaymentID string, now time.Time) (*domain.Order, bool, error)
	TransitionToFailed(ctx context.Context, tx pgx.Tx, ref, reason string, now time.Time) (*domain.Order, bool, error)
	SetChainFinal(ctx context.Context, tx pgx.Tx, winnerID, rootID uuid.UUID) error
	TransitionToRefunded(ctx context.Context, ref string) (*domain.Order, error)
	ListFinalOrders(ctx context.Context, eventID uuid.UUID) ([]domain.Order, error)

	InsertTransaction(ctx context.Context, tx pgx.Tx, txn domain.Transaction) error
	AppendTransaction(ctx context.Context, txn domain.Transaction) error
	InsertNotification(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, eventType string, payload []byte) error
}

// Bridge is the attendance/ledger side-effect contract, invoked only by the
// call that won the status transition, inside the same transaction.
type Bridge interface {
	OnSuccess(ctx context.Context, tx pgx.Tx, o *domain.Order) error
	OnFailure(ctx context.Context, tx pgx.Tx, o *domain.Order) error
}

// PricingSource is the external event-pricing collaborator.
type PricingSource interface {
	TicketPrice(ctx context.Context, eventID uuid.UUID) (decimal.Decimal, bool, error)
}

// Locker is the redis fast-path guard against concurrent double-submits.
type Locker interface {
	AcquireOrderLock(ctx context.Context, buyerID, eventID string, ttl time.Duration) (bool, error)
	ReleaseOrderLock(ctx context.Context, buyerID, eventID string) error
}
