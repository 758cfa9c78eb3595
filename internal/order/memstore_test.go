package order_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the postgres repository, serializing
// transactions on a mutex so the conditional transitions behave like the real
// CAS statements. Methods taking a pgx.Tx assume the transaction lock is
// held; the others take it themselves.
type memStore struct {
	mu           sync.Mutex
	events       map[uuid.UUID]*memEvent
	reservations map[string]*domain.Reservation
	orders       map[uuid.UUID]*domain.Order
	orderSeq     []uuid.UUID
	refs         map[string]uuid.UUID
	attendees    map[string]*domain.Attendee
	txns         []domain.Transaction
	notes        []string
}

type memEvent struct {
	hostID    uuid.UUID
	capacity  int
	reserved  int
	confirmed int
}

func newMemStore() *memStore {
	return &memStore{
		events:       make(map[uuid.UUID]*memEvent),
		reservations: make(map[string]*domain.Reservation),
		orders:       make(map[uuid.UUID]*domain.Order),
		refs:         make(map[string]uuid.UUID),
		attendees:    make(map[string]*domain.Attendee),
	}
}

func (s *memStore) addEvent(id, hostID uuid.UUID, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id] = &memEvent{hostID: hostID, capacity: capacity}
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(nil)
}

func (s *memStore) ReserveCapacity(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, seats int) error {
	ev, ok := s.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	if ev.reserved+seats > ev.capacity {
		return domain.ErrCapacityExceeded
	}
	ev.reserved += seats
	return nil
}

func (s *memStore) InsertReservation(ctx context.Context, tx pgx.Tx, res domain.Reservation) error {
	r := res
	s.reservations[res.Key] = &r
	return nil
}

func (s *memStore) GetReservation(ctx context.Context, key string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ConsumeReservation(ctx context.Context, tx pgx.Tx, key string, now time.Time) error {
	r, ok := s.reservations[key]
	if !ok || r.Consumed || r.Released || !now.Before(r.ExpiresAt) {
		return domain.ErrReservationInvalid
	}
	r.Consumed = true
	return nil
}

func (s *memStore) ReleaseReservation(ctx context.Context, tx pgx.Tx, key string) (bool, error) {
	r, ok := s.reservations[key]
	if !ok || r.Consumed || r.Released {
		return false, nil
	}
	r.Released = true
	if ev, ok := s.events[r.EventID]; ok {
		ev.reserved -= r.Seats
	}
	return true, nil
}

func (s *memStore) GetEventHost(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	return ev.hostID, nil
}

func (s *memStore) LatestOrder(ctx context.Context, tx pgx.Tx, buyerID, eventID uuid.UUID) (*domain.Order, error) {
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		o := s.orders[s.orderSeq[i]]
		if o.BuyerID == buyerID && o.EventID == eventID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) InsertOrder(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	cp := *o
	s.orders[o.ID] = &cp
	s.orderSeq = append(s.orderSeq, o.ID)
	s.refs[o.Ref] = o.ID
	return nil
}

func (s *memStore) MarkPending(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refs[ref]
	if !ok || s.orders[id].Status != domain.StatusCreated {
		return domain.ErrConflict
	}
	s.orders[id].Status = domain.StatusPending
	return nil
}

func (s *memStore) GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderByRefLocked(ref)
}

func (s *memStore) orderByRefLocked(ref string) (*domain.Order, error) {
	id, ok := s.refs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s.orders[id]
	return &cp, nil
}

func (s *memStore) TransitionToPaid(ctx context.Context, tx pgx.Tx, ref, providerPaymentID string, now time.Time) (*domain.Order, bool, error) {
	id, ok := s.refs[ref]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	o := s.orders[id]
	if o.Status.Finalizable() && now.Before(o.ExpiresAt) {
		o.Status = domain.StatusPaid
		o.ProviderPaymentID = providerPaymentID
		cp := *o
		return &cp, true, nil
	}
	cp := *o
	return &cp, false, nil
}

func (s *memStore) TransitionToFailed(ctx context.Context, tx pgx.Tx, ref, reason string, now time.Time) (*domain.Order, bool, error) {
	id, ok := s.refs[ref]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	o := s.orders[id]
	if o.Status.Finalizable() && now.Before(o.ExpiresAt) {
		o.Status = domain.StatusFailed
		o.FailureReason = reason
		cp := *o
		return &cp, true, nil
	}
	cp := *o
	return &cp, false, nil
}

func (s *memStore) SetChainFinal(ctx context.Context, tx pgx.Tx, winnerID, rootID uuid.UUID) error {
	for _, o := range s.orders {
		if o.RootID == rootID {
			o.IsFinal = o.ID == winnerID
		}
	}
	return nil
}

func (s *memStore) TransitionToRefunded(ctx context.Context, ref string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refs[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o := s.orders[id]
	if o.Status != domain.StatusPaid {
		return nil, domain.ErrOrderNotFinalizable
	}
	o.Status = domain.StatusRefunded
	cp := *o
	return &cp, nil
}

func (s *memStore) ListFinalOrders(ctx context.Context, eventID uuid.UUID) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.EventID == eventID && o.IsFinal {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *memStore) InsertTransaction(ctx context.Context, tx pgx.Tx, txn domain.Transaction) error {
	s.txns = append(s.txns, txn)
	return nil
}

func (s *memStore) AppendTransaction(ctx context.Context, txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns = append(s.txns, txn)
	return nil
}

func (s *memStore) InsertNotification(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, eventType string, payload []byte) error {
	s.notes = append(s.notes, eventType)
	return nil
}

func (s *memStore) UpsertAttendee(ctx context.Context, tx pgx.Tx, att domain.Attendee) error {
	key := att.EventID.String() + "|" + att.BuyerID.String()
	if existing, ok := s.attendees[key]; ok {
		existing.OrderID = att.OrderID
		existing.Seats += att.Seats
	} else {
		cp := att
		s.attendees[key] = &cp
	}
	if ev, ok := s.events[att.EventID]; ok {
		ev.confirmed += att.Seats
		ev.reserved -= att.Seats
	}
	return nil
}

func (s *memStore) expireReservation(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[key].ExpiresAt = at
}

func (s *memStore) attendeeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attendees)
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) txnCount(kind domain.TransactionKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.txns {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

func (s *memStore) confirmedCount(eventID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[eventID].confirmed
}

// memLocker mimics the redis SetNX order lock.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) AcquireOrderLock(ctx context.Context, buyerID, eventID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := buyerID + ":" + eventID
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) ReleaseOrderLock(ctx context.Context, buyerID, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, buyerID+":"+eventID)
	return nil
}

func (l *memLocker) holds(buyerID, eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[buyerID+":"+eventID]
}

// memPricing is a fixed-price catalog.
type memPricing struct {
	prices map[uuid.UUID]decimal.Decimal
}

func (p *memPricing) TicketPrice(ctx context.Context, eventID uuid.UUID) (decimal.Decimal, bool, error) {
	price, ok := p.prices[eventID]
	if !ok {
		return decimal.Zero, false, nil
	}
	return price, true, nil
}
