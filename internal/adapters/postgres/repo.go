package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a serializable transaction. The serializable level is
// what lets conditional updates act as CAS operations: two racing finalize
// calls cannot both observe a finalizable status. Serialization failures map
// to a retryable domain error.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// ---- events ----

func (r *Repository) CreateEvent(ctx context.Context, id, hostID uuid.UUID, capacity int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, host_id, capacity) VALUES ($1, $2, $3)
	`, id, hostID, capacity)
	return err
}

func (r *Repository) GetEventHost(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	var hostID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT host_id FROM events WHERE id = $1`, eventID).Scan(&hostID)
	if err == pgx.ErrNoRows {
		return uuid.Nil, domain.ErrNotFound
	}
	return hostID, err
}

// ---- capacity reservations ----

// ReserveCapacity takes seats out of the event's remaining capacity in one
// conditional update; a zero row count means the event is full.
func (r *Repository) ReserveCapacity(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, seats int) error {
	result, err := tx.Exec(ctx, `
		UPDATE events SET seats_reserved = seats_reserved + $2
		WHERE id = $1 AND seats_reserved + $2 <= capacity
	`, eventID, seats)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCapacityExceeded
	}
	return nil
}

func (r *Repository) InsertReservation(ctx context.Context, tx pgx.Tx, res domain.Reservation) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO capacity_reservations (key, event_id, buyer_id, seats, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, res.Key, res.EventID, res.BuyerID, res.Seats, res.ExpiresAt, res.CreatedAt)
	return err
}

func (r *Repository) GetReservation(ctx context.Context, key string) (*domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx, `
		SELECT key, event_id, buyer_id, seats, consumed, released, expires_at, created_at
		FROM capacity_reservations WHERE key = $1
	`, key).Scan(&res.Key, &res.EventID, &res.BuyerID, &res.Seats, &res.Consumed, &res.Released, &res.ExpiresAt, &res.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ConsumeReservation is the compare-and-set from (unconsumed, unreleased,
// unexpired) to consumed. Expiry is checked in the predicate itself, so a
// stale reservation fails here without any sweep having run.
func (r *Repository) ConsumeReservation(ctx context.Context, tx pgx.Tx, key string, now time.Time) error {
	result, err := tx.Exec(ctx, `
		UPDATE capacity_reservations SET consumed = TRUE
		WHERE key = $1 AND consumed = FALSE AND released = FALSE AND expires_at > $2
	`, key, now)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrReservationInvalid
	}
	return nil
}

// ReleaseReservation idempotently gives the held seats back. The returned
// bool reports whether this call did the release; repeat calls are no-ops.
func (r *Repository) ReleaseReservation(ctx context.Context, tx pgx.Tx, key string) (bool, error) {
	var eventID uuid.UUID
	var seats int
	err := tx.QueryRow(ctx, `
		UPDATE capacity_reservations SET released = TRUE
		WHERE key = $1 AND consumed = FALSE AND released = FALSE
		RETURNING event_id, seats
	`, key).Scan(&eventID, &seats)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE events SET seats_reserved = seats_reserved - $2 WHERE id = $1
	`, eventID, seats)
	return true, err
}

// ExpiredReservations lists unconsumed, unreleased reservations past their
// deadline, for the background sweep.
func (r *Repository) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT key, event_id, buyer_id, seats, consumed, released, expires_at, created_at
		FROM capacity_reservations
		WHERE consumed = FALSE AND released = FALSE AND expires_at <= $1
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.Key, &res.EventID, &res.BuyerID, &res.Seats, &res.Consumed, &res.Released, &res.ExpiresAt, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// ---- payment orders ----

const orderColumns = `
	id, ref, buyer_id, event_id, seats, currency, amount, status,
	base_price_per_seat, platform_fee_percent, platform_fee_amount, host_earning_per_seat,
	provider, provider_payment_id, failure_reason, reservation_key,
	parent_id, root_id, is_final, expires_at, created_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.Ref, &o.BuyerID, &o.EventID, &o.Seats, &o.Currency, &o.Amount, &o.Status,
		&o.Snapshot.BasePricePerSeat, &o.Snapshot.PlatformFeePercent, &o.Snapshot.PlatformFeeAmount, &o.Snapshot.HostEarningPerSeat,
		&o.Provider, &o.ProviderPaymentID, &o.FailureReason, &o.ReservationKey,
		&o.ParentID, &o.RootID, &o.IsFinal, &o.ExpiresAt, &o.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) InsertOrder(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		o.ID, o.Ref, o.BuyerID, o.EventID, o.Seats, o.Currency, o.Amount, o.Status,
		o.Snapshot.BasePricePerSeat, o.Snapshot.PlatformFeePercent, o.Snapshot.PlatformFeeAmount, o.Snapshot.HostEarningPerSeat,
		o.Provider, o.ProviderPaymentID, o.FailureReason, o.ReservationKey,
		o.ParentID, o.RootID, o.IsFinal, o.ExpiresAt, o.CreatedAt,
	)
	return err
}

func (r *Repository) GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM payment_orders WHERE ref = $1`, ref))
}

// LatestOrder returns the most recent order for a (buyer, event) pair, or
// ErrNotFound. Used for duplicate-active detection and retry-chain linking.
func (r *Repository) LatestOrder(ctx context.Context, tx pgx.Tx, buyerID, eventID uuid.UUID) (*domain.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `
		SELECT`+orderColumns+` FROM payment_orders
		WHERE buyer_id = $1 AND event_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, buyerID, eventID))
}

// MarkPending records that the buyer was handed the gateway redirect.
func (r *Repository) MarkPending(ctx context.Context, ref string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE payment_orders SET status = 'PENDING' WHERE ref = $1 AND status = 'CREATED'
	`, ref)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// TransitionToPaid is the success CAS. The predicate covers both the
// finalizable statuses and the expiry bound, so only one caller can ever win
// and an out-of-window signal never resurrects the order. When the update
// matches no row the current order is returned with won=false so the caller
// can tell an idempotent repeat from a conflicting signal.
func (r *Repository) TransitionToPaid(ctx context.Context, tx pgx.Tx, ref, providerPaymentID string, now time.Time) (*domain.Order, bool, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE payment_orders
		SET status = 'PAID', provider_payment_id = $2
		WHERE ref = $1 AND status IN ('CREATED','PENDING') AND expires_at > $3
		RETURNING`+orderColumns, ref, providerPaymentID, now))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	o, err = scanOrder(tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM payment_orders WHERE ref = $1`, ref))
	if err != nil {
		return nil, false, err
	}
	return o, false, nil
}

// TransitionToFailed is the symmetric failure CAS.
func (r *Repository) TransitionToFailed(ctx context.Context, tx pgx.Tx, ref, reason string, now time.Time) (*domain.Order, bool, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE payment_orders
		SET status = 'FAILED', failure_reason = $2
		WHERE ref = $1 AND status IN ('CREATED','PENDING') AND expires_at > $3
		RETURNING`+orderColumns, ref, reason, now))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	o, err = scanOrder(tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM payment_orders WHERE ref = $1`, ref))
	if err != nil {
		return nil, false, err
	}
	return o, false, nil
}

// SetChainFinal marks the winner as the single final order of its retry chain
// and explicitly clears the flag on every sibling.
func (r *Repository) SetChainFinal(ctx context.Context, tx pgx.Tx, winnerID, rootID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_orders SET is_final = (id = $1) WHERE root_id = $2
	`, winnerID, rootID)
	return err
}

// TransitionToRefunded handles the out-of-band manual reversal, reachable
// only from PAID.
func (r *Repository) TransitionToRefunded(ctx context.Context, ref string) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `
		UPDATE payment_orders SET status = 'REFUNDED'
		WHERE ref = $1 AND status = 'PAID'
		RETURNING`+orderColumns, ref))
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := r.GetOrderByRef(ctx, ref); getErr == nil {
			return nil, domain.ErrOrderNotFinalizable
		}
		return nil, domain.ErrNotFound
	}
	return o, err
}

// ExpireStaleOrders flips created/pending orders past their deadline to
// EXPIRED and reports them so the sweep can release their reservations.
func (r *Repository) ExpireStaleOrders(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]domain.Order, error) {
	rows, err := tx.Query(ctx, `
		UPDATE payment_orders SET status = 'EXPIRED'
		WHERE id IN (
			SELECT id FROM payment_orders
			WHERE status IN ('CREATED','PENDING') AND expires_at <= $1
			LIMIT $2
		)
		RETURNING`+orderColumns, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListFinalOrders lists the chain winners for an event. Reconciliation and
// payout aggregation read only these rows.
func (r *Repository) ListFinalOrders(ctx context.Context, eventID uuid.UUID) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+orderColumns+` FROM payment_orders
		WHERE event_id = $1 AND is_final = TRUE
		ORDER BY created_at
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ---- transactions & attendees ----

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, txn domain.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payment_transactions (id, order_id, kind, payload)
		VALUES ($1, $2, $3, $4)
	`, txn.ID, txn.OrderID, txn.Kind, txn.Payload)
	return err
}

// AppendTransaction records an audit row outside any transaction, for signals
// that must be kept even when no state changes (conflicts, late webhooks).
func (r *Repository) AppendTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_transactions (id, order_id, kind, payload)
		VALUES ($1, $2, $3, $4)
	`, txn.ID, txn.OrderID, txn.Kind, txn.Payload)
	return err
}

func (r *Repository) ListTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, kind, payload, created_at
		FROM payment_transactions WHERE order_id = $1 ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Kind, &t.Payload, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertAttendee records confirmed attendance keyed on (event, buyer). A
// buyer paying again for the same event accumulates seats on the existing
// row. The caller runs this exactly once per won transition, so the event
// counters always move by the order's seats: confirmed goes up, reserved
// comes back down.
func (r *Repository) UpsertAttendee(ctx context.Context, tx pgx.Tx, att domain.Attendee) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO attendees (event_id, buyer_id, order_id, seats)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, buyer_id)
		DO UPDATE SET order_id = EXCLUDED.order_id, seats = attendees.seats + EXCLUDED.seats
	`, att.EventID, att.BuyerID, att.OrderID, att.Seats)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE events
		SET confirmed_count = confirmed_count + $2,
		    seats_reserved = seats_reserved - $2
		WHERE id = $1
	`, att.EventID, att.Seats)
	return err
}

func (r *Repository) GetAttendee(ctx context.Context, eventID, buyerID uuid.UUID) (*domain.Attendee, error) {
	var att domain.Attendee
	err := r.pool.QueryRow(ctx, `
		SELECT event_id, buyer_id, order_id, seats, created_at
		FROM attendees WHERE event_id = $1 AND buyer_id = $2
	`, eventID, buyerID).Scan(&att.EventID, &att.BuyerID, &att.OrderID, &att.Seats, &att.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}
