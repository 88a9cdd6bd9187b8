package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/domain"
)

// RedisPublisher is the subset of *redis.Client the forwarder needs
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Envelope is the wire form of an event on the Redis channel
type Envelope struct {
	Event      string       `json:"event"`
	OccurredAt time.Time    `json:"occurred_at"`
	Payload    domain.Event `json:"payload"`
}

// RedisForwarder publishes events to a Redis channel for UI refresh listeners
type RedisForwarder struct {
	client  RedisPublisher
	channel string
	now     func() time.Time
}

// NewRedisClient creates a go-redis client from config and pings it
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisForwarder creates a forwarder publishing on channel
func NewRedisForwarder(client RedisPublisher, channel string) *RedisForwarder {
	return &RedisForwarder{
		client:  client,
		channel: channel,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle is a bus Handler
func (f *RedisForwarder) Handle(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(Envelope{
		Event:      e.EventName(),
		OccurredAt: f.now(),
		Payload:    e,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.EventName(), err)
	}
	return nil
}
