package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/payment-orders/internal/observability"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository reads the event catalog maintained by the events service.
// This core only consumes pricing from it; event CRUD lives elsewhere.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          uuid.UUID `bson:"_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Venue       string    `bson:"venue"`
	Date        time.Time `bson:"date"`
	IsPaid      bool      `bson:"is_paid"`
	TicketPrice string    `bson:"ticket_price"`
	Currency    string    `bson:"currency"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err != nil {
		c.logger.WithError(err).Error("failed to get event")
		return nil, err
	}
	return &event, nil
}

// TicketPrice implements the pricing lookup collaborator contract:
// base price plus whether the event takes paid orders at all.
func (c *CatalogRepository) TicketPrice(ctx context.Context, eventID uuid.UUID) (decimal.Decimal, bool, error) {
	event, err := c.GetEvent(ctx, eventID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !event.IsPaid {
		return decimal.Zero, false, nil
	}
	price, err := decimal.NewFromString(event.TicketPrice)
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.WithError(err).Error("failed to create event")
		return err
	}
	return nil
}
