// Package idempotency replays stored responses for repeated POSTs carrying
// the same Idempotency-Key. This guards against client retries of order
// creation; gateway finalization does not use it, the order state machine is
// its own arbiter there.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/payment-orders/internal/adapters/redis"
	"github.com/robertarktes/payment-orders/internal/observability"
)

type Idempotency struct {
	store  *redisadapter.Idempotency
	ttl    time.Duration
	logger observability.Logger
}

func NewIdempotency(store *redisadapter.Idempotency, ttl time.Duration, logger observability.Logger) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

func (i *Idempotency) Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error) {
	if key == "" {
		return nil, nil
	}
	return i.store.Get(ctx, key)
}

// Set stores the response best effort. A failed store means the client may
// redo the request; creation itself stays safe behind the active-order check.
func (i *Idempotency) Set(ctx context.Context, key string, resp redisadapter.IdempResponse) {
	if key == "" {
		return
	}
	if err := i.store.Set(ctx, key, resp, i.ttl); err != nil {
		i.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
