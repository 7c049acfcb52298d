package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockengine/internal/shared"
)

// KeyClaimer records idempotency keys in Redis with a retention TTL. It
// serves deployments running on the memory store, where the idempotency
// table does not exist.
type KeyClaimer struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewKeyClaimer constructs KeyClaimer. Keys expire after ttl.
func NewKeyClaimer(client redis.UniversalClient, ttl time.Duration) *KeyClaimer {
	return &KeyClaimer{client: client, ttl: ttl, prefix: "stockengine:idempotency:"}
}

// CheckAndInsert claims key for module, returning shared.ErrIdempotencyConflict
// when it is already taken.
func (c *KeyClaimer) CheckAndInsert(ctx context.Context, key, module string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	ok, err := c.client.SetNX(ctx, c.prefix+key, module, c.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrIdempotencyConflict
	}
	return nil
}

// Delete releases key so a failed request can be retried.
func (c *KeyClaimer) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key required")
	}
	return c.client.Del(ctx, c.prefix+key).Err()
}
