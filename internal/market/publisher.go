package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "quanthelm:"

// Publisher mirrors engine state into Redis so external dashboards can read
// quotes, equity, and allocations without touching the core. A nil Publisher
// is valid and publishes nothing.
type Publisher struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPublisher connects a snapshot publisher to Redis.
func NewPublisher(addr, password string, db int, ttl time.Duration) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &Publisher{client: client, ttl: ttl}
}

// Ping verifies connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.client.Ping(ctx).Err()
}

// PublishQuote stores the latest quote under quanthelm:quote:<symbol>.
func (p *Publisher) PublishQuote(ctx context.Context, q Quote) error {
	return p.set(ctx, "quote:"+q.Symbol, q)
}

// PublishEquity stores the equity snapshot under quanthelm:equity.
func (p *Publisher) PublishEquity(ctx context.Context, equity, drawdown float64) error {
	return p.set(ctx, "equity", map[string]interface{}{
		"equity":    equity,
		"drawdown":  drawdown,
		"timestamp": time.Now(),
	})
}

// PublishAllocations stores the current per-arm weights under
// quanthelm:allocations.
func (p *Publisher) PublishAllocations(ctx context.Context, weights map[string]float64) error {
	return p.set(ctx, "allocations", weights)
}

func (p *Publisher) set(ctx context.Context, key string, value interface{}) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", key, err)
	}
	if err := p.client.Set(ctx, keyPrefix+key, data, p.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("snapshot publish failed")
		return err
	}
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
