// Package order owns the payment order state machine: creation with its
// immutable financial snapshot, lazy expiry, retry-chain linking, and the
// idempotent finalization of gateway signals.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/gateway"
	"github.com/robertarktes/payment-orders/internal/observability"
	"github.com/shopspring/decimal"
)

const ProviderPayU = "payu"

type Service struct {
	store   Store
	pricing PricingSource
	gw      *gateway.Client
	locker  Locker
	logger  observability.Logger

	feePercent decimal.Decimal
	orderTTL   time.Duration
	currency   string
	successURL string
	failureURL string
}

func NewService(store Store, pricing PricingSource, gw *gateway.Client, locker Locker, logger observability.Logger,
	feePercent decimal.Decimal, orderTTL time.Duration, currency, successURL, failureURL string) *Service {
	return &Service{
		store:      store,
		pricing:    pricing,
		gw:         gw,
		locker:     locker,
		logger:     logger,
		feePercent: feePercent,
		orderTTL:   orderTTL,
		currency:   currency,
		successURL: successURL,
		failureURL: failureURL,
	}
}

type CreateInput struct {
	EventID        uuid.UUID
	BuyerID        uuid.UUID
	Buyer          gateway.Buyer
	Seats          int
	ClaimedAmount  decimal.Decimal
	ReservationKey string
}

// Create validates the reservation and the claimed amount, freezes the
// pricing snapshot, links the retry chain, and returns the order with the
// signed gateway redirect. The claimed amount is compared with exact equality
// against the server-computed total; the caller never dictates pricing.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Order, gateway.RedirectPayload, error) {
	var none gateway.RedirectPayload
	if in.Seats <= 0 {
		return nil, none, domain.ErrInvalidInput
	}

	locked, err := s.locker.AcquireOrderLock(ctx, in.BuyerID.String(), in.EventID.String(), s.orderTTL)
	if err != nil {
		return nil, none, err
	}
	if !locked {
		// The lock may be a leftover from a finished attempt; only an actual
		// active order rejects the request. The in-transaction check below
		// stays authoritative either way.
		if dupErr := s.duplicateError(ctx, in.BuyerID, in.EventID); dupErr != nil {
			return nil, none, dupErr
		}
	}
	defer func() {
		// Only the holder may release; a lock owned by a concurrent request
		// must survive this attempt's failure.
		if err != nil && locked {
			_ = s.locker.ReleaseOrderLock(ctx, in.BuyerID.String(), in.EventID.String())
		}
	}()

	now := time.Now()

	res, err := s.store.GetReservation(ctx, in.ReservationKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.ErrReservationInvalid
		}
		return nil, none, err
	}
	if res.EventID != in.EventID || res.BuyerID != in.BuyerID || res.Seats != in.Seats || !res.Usable(now) {
		err = domain.ErrReservationInvalid
		return nil, none, err
	}

	basePrice, isPaid, err := s.pricing.TicketPrice(ctx, in.EventID)
	if err != nil {
		return nil, none, err
	}
	if !isPaid {
		err = errors.Wrap(domain.ErrInvalidInput, "event does not sell tickets")
		return nil, none, err
	}

	total, snapshot := domain.ComputeAmount(basePrice, in.Seats, s.feePercent)
	if !total.Equal(in.ClaimedAmount) {
		err = &domain.AmountMismatchError{Expected: total, Claimed: in.ClaimedAmount}
		return nil, none, err
	}

	o := &domain.Order{
		ID:             uuid.New(),
		Ref:            domain.NewOrderRef(in.EventID, now),
		BuyerID:        in.BuyerID,
		EventID:        in.EventID,
		Seats:          in.Seats,
		Currency:       s.currency,
		Amount:         total,
		Status:         domain.StatusCreated,
		Snapshot:       snapshot,
		Provider:       ProviderPayU,
		ReservationKey: in.ReservationKey,
		ExpiresAt:      now.Add(s.orderTTL),
		CreatedAt:      now,
	}
	o.RootID = o.ID

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		latest, lerr := s.store.LatestOrder(ctx, tx, in.BuyerID, in.EventID)
		if lerr != nil && !errors.Is(lerr, domain.ErrNotFound) {
			return lerr
		}
		if latest != nil {
			switch latest.EffectiveStatus(now) {
			case domain.StatusCreated, domain.StatusPending:
				return &domain.DuplicateActiveOrderError{ExistingRef: latest.Ref}
			case domain.StatusFailed, domain.StatusExpired:
				// Buyer-driven retry: keep the chain.
				parentID := latest.ID
				o.ParentID = &parentID
				o.RootID = latest.RootID
			}
		}
		if ierr := s.store.InsertOrder(ctx, tx, o); ierr != nil {
			return ierr
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"order_ref": o.Ref,
			"amount":    o.Amount.StringFixed(2),
			"provider":  o.Provider,
		})
		return s.store.InsertTransaction(ctx, tx, domain.NewTransaction(o.ID, domain.TxnHashIssued, payload))
	})
	if err != nil {
		return nil, none, err
	}

	description := fmt.Sprintf("%d seat(s) for event %s", o.Seats, o.EventID)
	redirect := s.gw.BuildRedirect(o, in.Buyer, description, s.successURL, s.failureURL)

	// Handing over the redirect is what moves the order to PENDING.
	if perr := s.store.MarkPending(ctx, o.Ref); perr != nil {
		s.logger.WithError(perr).WithField("order_ref", o.Ref).Warn("failed to mark order pending")
	} else {
		o.Status = domain.StatusPending
	}

	observability.OrdersCreated.Inc()
	return o, redirect, nil
}

func (s *Service) duplicateError(ctx context.Context, buyerID, eventID uuid.UUID) error {
	var ref string
	_ = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		latest, err := s.store.LatestOrder(ctx, tx, buyerID, eventID)
		if err == nil && !latest.EffectiveStatus(time.Now()).Terminal() {
			ref = latest.Ref
		}
		return nil
	})
	if ref != "" {
		return &domain.DuplicateActiveOrderError{ExistingRef: ref}
	}
	return nil
}

// Get returns the order for its buyer or the event host, with the lazily
// evaluated status: an unfinalized order past its deadline reads as EXPIRED.
func (s *Service) Get(ctx context.Context, ref string, requesterID uuid.UUID) (*domain.Order, error) {
	o, err := s.store.GetOrderByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != requesterID {
		hostID, herr := s.store.GetEventHost(ctx, o.EventID)
		if herr != nil {
			return nil, herr
		}
		if hostID != requesterID {
			return nil, domain.ErrForbidden
		}
	}
	o.Status = o.EffectiveStatus(time.Now())
	return o, nil
}

// Refund is the host-initiated manual reversal, reachable only from PAID.
func (s *Service) Refund(ctx context.Context, ref string, requesterID uuid.UUID) (*domain.Order, error) {
	o, err := s.store.GetOrderByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	hostID, err := s.store.GetEventHost(ctx, o.EventID)
	if err != nil {
		return nil, err
	}
	if hostID != requesterID {
		return nil, domain.ErrForbidden
	}

	refunded, err := s.store.TransitionToRefunded(ctx, ref)
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]interface{}{"order_ref": ref, "requested_by": requesterID})
	if aerr := s.store.AppendTransaction(ctx, domain.NewTransaction(refunded.ID, domain.TxnRefund, payload)); aerr != nil {
		s.logger.WithError(aerr).WithField("order_ref", ref).Error("failed to record refund transaction")
	}
	return refunded, nil
}

// FinalOrders is the host reconciliation view: only chain winners, so seat
// and payout aggregation never double-counts retried payments.
func (s *Service) FinalOrders(ctx context.Context, eventID, requesterID uuid.UUID) ([]domain.Order, error) {
	hostID, err := s.store.GetEventHost(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if hostID != requesterID {
		return nil, domain.ErrForbidden
	}
	return s.store.ListFinalOrders(ctx, eventID)
}
