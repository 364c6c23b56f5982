package ingesttransport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisTransport polls a Redis list as a simple FIFO queue of model
// packages, adapted from the teacher's RedisStorage client — repurposed
// from a cache Get/Set interface to a blocking-pop queue consumer
// (BLPop) since Apollo never needs arbitrary key/value storage here.
type RedisTransport struct {
	client   *redis.Client
	key      string
	logger   *zap.Logger
	out      chan []byte
	pollWait time.Duration
}

func NewRedisTransport(addr, password string, db int, key string, logger *zap.Logger) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ingesttransport: connecting to Redis: %w", err)
	}

	return &RedisTransport{
		client:   client,
		key:      key,
		logger:   logger,
		out:      make(chan []byte, 64),
		pollWait: 5 * time.Second,
	}, nil
}

func (t *RedisTransport) Packages() <-chan []byte { return t.out }

func (t *RedisTransport) Run(ctx context.Context) error {
	defer close(t.out)
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := t.client.BLPop(ctx, t.pollWait, t.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Warn("ingesttransport: redis blpop failed", zap.Error(err))
			continue
		}
		// BLPop returns [key, value]
		if len(res) != 2 {
			continue
		}
		select {
		case t.out <- []byte(res[1]):
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
