// Package reservation owns the temporary seat holds that back paid orders.
package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/observability"
)

// Store is the persistence subset the manager needs. All mutating operations
// are single conditional statements; the manager never reads-then-writes.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ReserveCapacity(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, seats int) error
	InsertReservation(ctx context.Context, tx pgx.Tx, res domain.Reservation) error
	GetReservation(ctx context.Context, key string) (*domain.Reservation, error)
	ConsumeReservation(ctx context.Context, tx pgx.Tx, key string, now time.Time) error
	ReleaseReservation(ctx context.Context, tx pgx.Tx, key string) (bool, error)
}

type Manager struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func NewManager(store Store, ttl time.Duration, logger observability.Logger) *Manager {
	return &Manager{store: store, ttl: ttl, logger: logger}
}

// Reserve holds seats for a buyer. The capacity decrement and the reservation
// row land in one transaction; a full event fails with ErrCapacityExceeded.
func (m *Manager) Reserve(ctx context.Context, eventID, buyerID uuid.UUID, seats int) (domain.Reservation, error) {
	if seats <= 0 {
		return domain.Reservation{}, domain.ErrInvalidInput
	}
	res := domain.NewReservation(eventID, buyerID, seats, m.ttl)
	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := m.store.ReserveCapacity(ctx, tx, eventID, seats); err != nil {
			return err
		}
		return m.store.InsertReservation(ctx, tx, res)
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

func (m *Manager) Get(ctx context.Context, key string) (*domain.Reservation, error) {
	return m.store.GetReservation(ctx, key)
}

// Consume flips the reservation to consumed exactly once. Expired or already
// consumed reservations fail with ErrReservationInvalid; the expiry bound is
// part of the CAS predicate, no sweep needs to have run first.
func (m *Manager) Consume(ctx context.Context, tx pgx.Tx, key string) error {
	return m.store.ConsumeReservation(ctx, tx, key, time.Now())
}

// Release idempotently returns held seats to the event. Safe to call any
// number of times and for already consumed reservations (then a no-op).
func (m *Manager) Release(ctx context.Context, tx pgx.Tx, key string) error {
	released, err := m.store.ReleaseReservation(ctx, tx, key)
	if err != nil {
		return err
	}
	if released {
		m.logger.WithField("reservation_key", key).Debug("reservation released")
	}
	return nil
}
