package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/payment-orders/internal/adapters/redis"
	"github.com/robertarktes/payment-orders/internal/config"
	"github.com/robertarktes/payment-orders/internal/domain"
	"github.com/robertarktes/payment-orders/internal/gateway"
	"github.com/robertarktes/payment-orders/internal/idempotency"
	"github.com/robertarktes/payment-orders/internal/order"
	"github.com/robertarktes/payment-orders/internal/reservation"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	cfg          *config.Config
	orders       *order.Service
	finalizer    *order.Finalizer
	reservations *reservation.Manager
	idemp        *idempotency.Idempotency
	ready        func() bool
}

func NewHandlers(cfg *config.Config, orders *order.Service, finalizer *order.Finalizer,
	reservations *reservation.Manager, idemp *idempotency.Idempotency, ready func() bool) *Handlers {
	return &Handlers{
		cfg:          cfg,
		orders:       orders,
		finalizer:    finalizer,
		reservations: reservations,
		idemp:        idemp,
		ready:        ready,
	}
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := identityFrom(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req struct {
		EventID uuid.UUID `json:"event_id"`
		Seats   int       `json:"seats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed body")
		return
	}

	res, err := h.reservations.Reserve(r.Context(), req.EventID, buyerID, req.Seats)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"reservation_key": res.Key,
		"seats":           res.Seats,
		"expires_at":      res.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := identityFrom(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}

	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		EventID        uuid.UUID `json:"event_id"`
		Seats          int       `json:"seats"`
		Amount         string    `json:"amount"`
		ReservationKey string    `json:"reservation_key"`
		BuyerName      string    `json:"buyer_name"`
		BuyerEmail     string    `json:"buyer_email"`
		BuyerPhone     string    `json:"buyer_phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed amount")
		return
	}

	o, redirect, err := h.orders.Create(r.Context(), order.CreateInput{
		EventID:        req.EventID,
		BuyerID:        buyerID,
		Buyer:          gateway.Buyer{Name: req.BuyerName, Email: req.BuyerEmail, Phone: req.BuyerPhone},
		Seats:          req.Seats,
		ClaimedAmount:  amount,
		ReservationKey: req.ReservationKey,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, _ := json.Marshal(map[string]interface{}{
		"order_ref":  o.Ref,
		"status":     o.Status,
		"amount":     o.Amount.StringFixed(2),
		"currency":   o.Currency,
		"expires_at": o.ExpiresAt.Format(time.RFC3339),
		"redirect":   redirect,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, redisadapter.IdempResponse{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := identityFrom(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}

	ref := chi.URLParam(r, "ref")
	o, err := h.orders.Get(r.Context(), ref, requesterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

// GatewaySuccess is the browser redirect target (surl). Form-encoded, field
// names per the gateway contract.
func (h *Handlers) GatewaySuccess(w http.ResponseWriter, r *http.Request) {
	cb, err := callbackFromForm(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed callback")
		return
	}

	o, err := h.finalizer.Success(r.Context(), order.ChannelCallback, cb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

// GatewayFailure is the furl counterpart.
func (h *Handlers) GatewayFailure(w http.ResponseWriter, r *http.Request) {
	cb, err := callbackFromForm(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed callback")
		return
	}

	o, err := h.finalizer.Failure(r.Context(), order.ChannelCallback, cb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

// GatewayWebhook is the server-to-server channel. The gateway retries on
// non-200, so a signal that lost to an earlier finalization in the other
// direction still answers 200; the conflict row is the durable record.
func (h *Handlers) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxnID       string `json:"txnid"`
		Status      string `json:"status"`
		Amount      string `json:"amount"`
		ProductInfo string `json:"productinfo"`
		FirstName   string `json:"firstname"`
		Email       string `json:"email"`
		PaymentID   string `json:"mihpayid"`
		Reason      string `json:"error_Message"`
		Hash        string `json:"hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed body")
		return
	}
	cb := gateway.Callback{
		OrderRef:    req.TxnID,
		Status:      req.Status,
		Amount:      req.Amount,
		ProductInfo: req.ProductInfo,
		FirstName:   req.FirstName,
		Email:       req.Email,
		PaymentID:   req.PaymentID,
		Reason:      req.Reason,
		Hash:        req.Hash,
	}

	var o *domain.Order
	var err error
	if strings.EqualFold(cb.Status, "success") {
		o, err = h.finalizer.Success(r.Context(), order.ChannelWebhook, cb)
	} else {
		o, err = h.finalizer.Failure(r.Context(), order.ChannelWebhook, cb)
	}
	if errors.Is(err, domain.ErrOrderNotFinalizable) {
		writeJSON(w, http.StatusOK, map[string]string{"result": "recorded"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

func (h *Handlers) RefundOrder(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := identityFrom(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}

	ref := chi.URLParam(r, "ref")
	o, err := h.orders.Refund(r.Context(), ref, requesterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

// ListEventOrders is the host reconciliation view: chain winners only.
func (h *Handlers) ListEventOrders(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := identityFrom(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "missing identity")
		return
	}
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid event id")
		return
	}

	list, err := h.orders.FinalOrders(r.Context(), eventID, requesterID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]map[string]interface{}, 0, len(list))
	for i := range list {
		views = append(views, orderView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func callbackFromForm(r *http.Request) (gateway.Callback, error) {
	if err := r.ParseForm(); err != nil {
		return gateway.Callback{}, err
	}
	cb := gateway.Callback{
		OrderRef:    r.PostFormValue("txnid"),
		Status:      r.PostFormValue("status"),
		Amount:      r.PostFormValue("amount"),
		ProductInfo: r.PostFormValue("productinfo"),
		FirstName:   r.PostFormValue("firstname"),
		Email:       r.PostFormValue("email"),
		PaymentID:   r.PostFormValue("mihpayid"),
		Reason:      r.PostFormValue("error_Message"),
		Hash:        r.PostFormValue("hash"),
	}
	if cb.OrderRef == "" {
		return gateway.Callback{}, errors.New("missing txnid")
	}
	return cb, nil
}

func orderView(o *domain.Order) map[string]interface{} {
	v := map[string]interface{}{
		"order_ref":  o.Ref,
		"event_id":   o.EventID,
		"status":     o.Status,
		"seats":      o.Seats,
		"amount":     o.Amount.StringFixed(2),
		"currency":   o.Currency,
		"expires_at": o.ExpiresAt.Format(time.RFC3339),
		"created_at": o.CreatedAt.Format(time.RFC3339),
		"snapshot": map[string]string{
			"base_price_per_seat":   o.Snapshot.BasePricePerSeat.StringFixed(2),
			"platform_fee_percent":  o.Snapshot.PlatformFeePercent.String(),
			"platform_fee_amount":   o.Snapshot.PlatformFeeAmount.StringFixed(2),
			"host_earning_per_seat": o.Snapshot.HostEarningPerSeat.StringFixed(2),
		},
	}
	if o.ProviderPaymentID != "" {
		v["provider_payment_id"] = o.ProviderPaymentID
	}
	if o.FailureReason != "" {
		v["failure_reason"] = o.FailureReason
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP statuses. Typed errors carry their
// extra context into the body so clients can act without parsing messages.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var mismatch *domain.AmountMismatchError
	if errors.As(err, &mismatch) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":           "amount mismatch",
			"expected_amount": mismatch.Expected.StringFixed(2),
		})
		return
	}
	var dup *domain.DuplicateActiveOrderError
	if errors.As(err, &dup) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":        "active order exists",
			"existing_ref": dup.ExistingRef,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSignatureInvalid):
		writeErrorMessage(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, domain.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrForbidden):
		writeErrorMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrReservationInvalid):
		writeErrorMessage(w, http.StatusUnprocessableEntity, "reservation invalid")
	case errors.Is(err, domain.ErrCapacityExceeded):
		writeErrorMessage(w, http.StatusConflict, "capacity exceeded")
	case errors.Is(err, domain.ErrOrderNotFinalizable):
		writeErrorMessage(w, http.StatusConflict, "order already finalized")
	case errors.Is(err, domain.ErrSerializationFailure), errors.Is(err, domain.ErrConflict):
		writeErrorMessage(w, http.StatusConflict, "conflict, try again")
	default:
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
