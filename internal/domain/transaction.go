package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind labels one provider interaction in the append-only audit trail.
type TransactionKind string

const (
	TxnHashIssued       TransactionKind = "HASH_ISSUED"
	TxnCallbackReceived TransactionKind = "CALLBACK_RECEIVED"
	TxnWebhookReceived  TransactionKind = "WEBHOOK_RECEIVED"
	TxnConflict         TransactionKind = "CONFLICT"
	TxnRefund           TransactionKind = "REFUND"
)

// Transaction is one row per provider interaction. Payload holds the raw
// provider response for replay; the merchant salt and issued hashes are never
// written here.
type Transaction struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	Kind      TransactionKind
	Payload   []byte
	CreatedAt time.Time
}

func NewTransaction(orderID uuid.UUID, kind TransactionKind, payload []byte) Transaction {
	return Transaction{
		ID:      uuid.New(),
		OrderID: orderID,
		Kind:    kind,
		Payload: payload,
	}
}

// Attendee is the confirmed attendance record created when an order reaches
// terminal success. Upserts are keyed on (event, buyer).
type Attendee struct {
	EventID   uuid.UUID
	BuyerID   uuid.UUID
	OrderID   uuid.UUID
	Seats     int
	CreatedAt time.Time
}
