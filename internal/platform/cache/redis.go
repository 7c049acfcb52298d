package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Options addresses one Redis instance. The same instance backs the key
// claimer, the sweep locks and the asynq queues.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Asynq converts the options for asynq clients, servers and inspectors.
func (o Options) Asynq() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

// New dials Redis and fails when it does not answer a ping.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewLocker builds the lock client that serialises sweeps across workers.
func NewLocker(client redis.UniversalClient) *redislock.Client {
	return redislock.New(client)
}
