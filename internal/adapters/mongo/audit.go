package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/payment-orders/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
)

// GatewayArchive keeps the raw gateway callback/webhook payloads for replay
// and manual reconciliation. Postgres keeps the structured transaction trail;
// this holds the untouched wire form. Hashes are stripped by the caller
// before archiving.
type GatewayArchive struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewGatewayArchive(db *mongo.Database, logger observability.Logger) *GatewayArchive {
	return &GatewayArchive{
		coll:   db.Collection("gateway_payloads"),
		logger: logger,
	}
}

type GatewayPayloadDoc struct {
	ID        uuid.UUID         `bson:"_id"`
	OrderRef  string            `bson:"order_ref"`
	Channel   string            `bson:"channel"`
	Fields    map[string]string `bson:"fields"`
	Timestamp time.Time         `bson:"timestamp"`
}

func (a *GatewayArchive) Archive(ctx context.Context, orderRef, channel string, fields map[string]string) error {
	doc := GatewayPayloadDoc{
		ID:        uuid.New(),
		OrderRef:  orderRef,
		Channel:   channel,
		Fields:    fields,
		Timestamp: time.Now(),
	}
	_, err := a.coll.InsertOne(ctx, doc)
	if err != nil {
		a.logger.WithError(err).WithField("order_ref", orderRef).Error("failed to archive gateway payload")
		return err
	}
	return nil
}
