package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reservation is a time-boxed hold on event seats, created when a join
// request is approved and consumed exactly once on confirmed payment.
type Reservation struct {
	Key       string
	EventID   uuid.UUID
	BuyerID   uuid.UUID
	Seats     int
	Consumed  bool
	Released  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Usable reports whether the reservation may still back a new order.
func (r *Reservation) Usable(now time.Time) bool {
	return !r.Consumed && !r.Released && now.Before(r.ExpiresAt)
}

func NewReservation(eventID, buyerID uuid.UUID, seats int, ttl time.Duration) Reservation {
	now := time.Now()
	return Reservation{
		Key:       uuid.NewString(),
		EventID:   eventID,
		BuyerID:   buyerID,
		Seats:     seats,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}
