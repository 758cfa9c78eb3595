package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/gateway"
	"github.com/robertarktes/payment-orders/internal/observability"
)

// Channels a finalization signal can arrive on. Both carry the same payload
// and the same semantics; neither is privileged.
const (
	ChannelCallback = "callback"
	ChannelWebhook  = "webhook"
)

// Archiver stores the raw gateway payload out of band. Best effort; a failed
// archive never blocks finalization.
type Archiver interface {
	Archive(ctx context.Context, orderRef, channel string, fields map[string]string) error
}

// Finalizer processes success/failure signals idempotently: the conditional
// status transition is the only arbiter, and only the call that won it runs
// the attendance side effects.
type Finalizer struct {
	store   Store
	bridge  Bridge
	gw      *gateway.Client
	archive Archiver
	logger  observability.Logger
}

func NewFinalizer(store Store, bridge Bridge, gw *gateway.Client, archive Archiver, logger observability.Logger) *Finalizer {
	return &Finalizer{store: store, bridge: bridge, gw: gw, archive: archive, logger: logger}
}

// Success handles a gateway success signal from either channel.
//   - bad reverse hash: ErrSignatureInvalid, no state touched
//   - CAS won: chain final flags, reservation consumed, attendee upserted,
//     audit row and notification queued, all in one transaction
//   - already PAID: idempotent no-op returning the existing order; the
//     duplicate signal still gets its own receipt row
//   - terminal in the other direction: ErrOrderNotFinalizable, signal stored
//     as a conflict for manual reconciliation
func (f *Finalizer) Success(ctx context.Context, channel string, cb gateway.Callback) (*domain.Order, error) {
	if !f.gw.VerifyCallback(cb) {
		observability.SignatureMismatches.Inc()
		f.logger.WithField("order_ref", cb.OrderRef).WithField("channel", channel).Warn("rejecting success signal: bad signature")
		return nil, domain.ErrSignatureInvalid
	}
	f.archivePayload(ctx, channel, cb)

	now := time.Now()
	var o *domain.Order
	var won bool
	err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		o, won, err = f.store.TransitionToPaid(ctx, tx, cb.OrderRef, cb.PaymentID, now)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if err := f.store.SetChainFinal(ctx, tx, o.ID, o.RootID); err != nil {
			return err
		}
		if err := f.bridge.OnSuccess(ctx, tx, o); err != nil {
			return err
		}
		payload := signalPayload(cb, channel)
		if err := f.store.InsertTransaction(ctx, tx, domain.NewTransaction(o.ID, receiptKind(channel), payload)); err != nil {
			return err
		}
		return f.store.InsertNotification(ctx, tx, o.ID, "payment.succeeded", payload)
	})
	if err != nil {
		return nil, err
	}

	if won {
		o.IsFinal = true
		o.ProviderPaymentID = cb.PaymentID
		observability.Finalizations.WithLabelValues("success", channel).Inc()
		return o, nil
	}
	if o.Status == domain.StatusPaid {
		observability.Finalizations.WithLabelValues("success_noop", channel).Inc()
		f.recordReceipt(ctx, o, channel, cb)
		return o, nil
	}
	return nil, f.recordConflict(ctx, o, channel, cb, "success")
}

// Failure is the symmetric path: CAS to FAILED, reservation released, no
// attendee side effects. A success signal landing on an already failed order
// must go through recordConflict, never auto-flip to paid.
func (f *Finalizer) Failure(ctx context.Context, channel string, cb gateway.Callback) (*domain.Order, error) {
	if !f.gw.VerifyCallback(cb) {
		observability.SignatureMismatches.Inc()
		f.logger.WithField("order_ref", cb.OrderRef).WithField("channel", channel).Warn("rejecting failure signal: bad signature")
		return nil, domain.ErrSignatureInvalid
	}
	f.archivePayload(ctx, channel, cb)

	now := time.Now()
	var o *domain.Order
	var won bool
	err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		o, won, err = f.store.TransitionToFailed(ctx, tx, cb.OrderRef, cb.Reason, now)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if err := f.bridge.OnFailure(ctx, tx, o); err != nil {
			return err
		}
		payload := signalPayload(cb, channel)
		if err := f.store.InsertTransaction(ctx, tx, domain.NewTransaction(o.ID, receiptKind(channel), payload)); err != nil {
			return err
		}
		return f.store.InsertNotification(ctx, tx, o.ID, "payment.failed", payload)
	})
	if err != nil {
		return nil, err
	}

	if won {
		o.FailureReason = cb.Reason
		observability.Finalizations.WithLabelValues("failure", channel).Inc()
		return o, nil
	}
	if o.Status == domain.StatusFailed {
		observability.Finalizations.WithLabelValues("failure_noop", channel).Inc()
		f.recordReceipt(ctx, o, channel, cb)
		return o, nil
	}
	return nil, f.recordConflict(ctx, o, channel, cb, "failure")
}

// recordReceipt keeps a receipt row for a duplicate no-op signal, so every
// gateway interaction stays visible in the audit trail. Best effort.
func (f *Finalizer) recordReceipt(ctx context.Context, o *domain.Order, channel string, cb gateway.Callback) {
	txn := domain.NewTransaction(o.ID, receiptKind(channel), signalPayload(cb, channel))
	if err := f.store.AppendTransaction(ctx, txn); err != nil {
		f.logger.WithError(err).WithField("order_ref", o.Ref).Warn("failed to store duplicate signal receipt")
	}
}

// recordConflict stores a wrong-direction signal for manual reconciliation
// instead of silently overwriting terminal state.
func (f *Finalizer) recordConflict(ctx context.Context, o *domain.Order, channel string, cb gateway.Callback, direction string) error {
	observability.ConflictingSignals.Inc()
	f.logger.WithField("order_ref", o.Ref).
		WithField("status", string(o.Status)).
		WithField("channel", channel).
		WithField("signal", direction).
		Warn("signal for terminal order stored for reconciliation")

	payload, _ := json.Marshal(map[string]string{
		"order_ref": o.Ref,
		"channel":   channel,
		"signal":    direction,
		"status":    cb.Status,
		"amount":    cb.Amount,
		"reason":    cb.Reason,
	})
	if err := f.store.AppendTransaction(ctx, domain.NewTransaction(o.ID, domain.TxnConflict, payload)); err != nil {
		f.logger.WithError(err).WithField("order_ref", o.Ref).Error("failed to store conflicting signal")
	}
	return errors.Wrapf(domain.ErrOrderNotFinalizable, "order %s is %s", o.Ref, o.Status)
}

func (f *Finalizer) archivePayload(ctx context.Context, channel string, cb gateway.Callback) {
	if f.archive == nil {
		return
	}
	// The hash never reaches any store.
	fields := map[string]string{
		"txnid":       cb.OrderRef,
		"status":      cb.Status,
		"amount":      cb.Amount,
		"productinfo": cb.ProductInfo,
		"firstname":   cb.FirstName,
		"email":       cb.Email,
		"mihpayid":    cb.PaymentID,
		"reason":      cb.Reason,
	}
	if err := f.archive.Archive(ctx, cb.OrderRef, channel, fields); err != nil {
		f.logger.WithError(err).WithField("order_ref", cb.OrderRef).Warn("gateway payload archive failed")
	}
}

func signalPayload(cb gateway.Callback, channel string) []byte {
	payload, _ := json.Marshal(map[string]string{
		"order_ref":  cb.OrderRef,
		"status":     cb.Status,
		"amount":     cb.Amount,
		"payment_id": cb.PaymentID,
		"reason":     cb.Reason,
		"channel":    channel,
	})
	return payload
}

func receiptKind(channel string) domain.TransactionKind {
	if channel == ChannelWebhook {
		return domain.TxnWebhookReceived
	}
	return domain.TxnCallbackReceived
}
