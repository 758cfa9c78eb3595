package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// AcquireOrderLock is the fast-path guard against duplicate concurrent order
// creation for one (buyer, event) pair. The database active-order check is
// authoritative; this just rejects the obvious double-submit before a
// transaction is opened.
func (c *Cache) AcquireOrderLock(ctx context.Context, buyerID, eventID string, ttl time.Duration) (bool, error) {
	key := "orderlock:" + buyerID + ":" + eventID
	res := c.client.SetNX(ctx, key, "1", ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseOrderLock(ctx context.Context, buyerID, eventID string) error {
	return c.client.Del(ctx, "orderlock:"+buyerID+":"+eventID).Err()
}
