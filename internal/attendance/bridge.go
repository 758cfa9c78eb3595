// Package attendance converts finalized payments into confirmed attendance.
package attendance

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/observability"
	"github.com/robertarktes/payment-orders/internal/reservation"
)

type Store interface {
	UpsertAttendee(ctx context.Context, tx pgx.Tx, att domain.Attendee) error
}

// Bridge runs inside the finalizer's transaction: the reservation flip, the
// attendee upsert and the counter bump commit or roll back together with the
// order status change.
type Bridge struct {
	reservations *reservation.Manager
	store        Store
	logger       observability.Logger
}

func NewBridge(reservations *reservation.Manager, store Store, logger observability.Logger) *Bridge {
	return &Bridge{reservations: reservations, store: store, logger: logger}
}

// OnSuccess consumes the order's reservation and upserts the attendee record
// keyed on (event, buyer). The upsert makes repeats harmless; the consume CAS
// guarantees two orders can never both claim one reservation.
func (b *Bridge) OnSuccess(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	if err := b.reservations.Consume(ctx, tx, o.ReservationKey); err != nil {
		return err
	}
	return b.store.UpsertAttendee(ctx, tx, domain.Attendee{
		EventID: o.EventID,
		BuyerID: o.BuyerID,
		OrderID: o.ID,
		Seats:   o.Seats,
	})
}

// OnFailure releases the reservation. No attendee side effects.
func (b *Bridge) OnFailure(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	return b.reservations.Release(ctx, tx, o.ReservationKey)
}
