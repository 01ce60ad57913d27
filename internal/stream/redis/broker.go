// Package redis implements the StreamBroker contract on Redis Streams
// with consumer groups.
package redis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"position-ledger/internal/model"
)

// Config configures the broker connection.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Broker reads transaction events from Redis Streams via consumer groups
// and publishes position updates over Pub/Sub.
type Broker struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (b *Broker) Client() *goredis.Client { return b.client }

// New creates a Broker and pings the server.
func New(cfg Config) (*Broker, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis-broker] connected to %s", cfg.Addr)
	return &Broker{client: client}, nil
}

// EnsureGroup idempotently creates the consumer group on stream with
// MKSTREAM, starting at "0" so entries published before the group existed
// are still delivered. BUSYGROUP means the group is already present and
// is treated as success; anything else is fatal to the stream's bootstrap.
func (b *Broker) EnsureGroup(ctx context.Context, stream, group string) (model.EnsureResult, error) {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return model.GroupAlreadyExists, nil
		}
		return 0, fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return model.GroupCreated, nil
}

// ReadNext pulls the next batch of undelivered entries for the group.
// Returns an empty batch when nothing arrived within block.
func (b *Broker) ReadNext(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]model.StreamEntry, error) {
	results, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}

	var entries []model.StreamEntry
	for _, res := range results {
		for _, msg := range res.Messages {
			data, ok := msg.Values["data"].(string)
			if !ok {
				// malformed producer entry: surface it with an empty
				// payload so the consumer can ack it away
				entries = append(entries, model.StreamEntry{ID: msg.ID})
				continue
			}
			entries = append(entries, model.StreamEntry{ID: msg.ID, Payload: []byte(data)})
		}
	}
	return entries, nil
}

// Ack removes an entry from the group's pending list.
func (b *Broker) Ack(ctx context.Context, stream, group, entryID string) error {
	return b.client.XAck(ctx, stream, group, entryID).Err()
}

// Publish sends a payload to a Pub/Sub channel for live subscribers.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, string(payload)).Err()
}

// Close closes the Redis client.
func (b *Broker) Close() error { return b.client.Close() }
