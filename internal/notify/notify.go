// Package notify delivers attendance events to the external reporting
// domain. Delivery is fire-and-forget: the gateway never depends on the
// consumer being available.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one classified attendance log, as consumed by reporting.
type Event struct {
	StudentID string    `json:"student_id"`
	DeviceID  string    `json:"device_id"`
	PunchedAt time.Time `json:"punched_at"`
	Status    string    `json:"status"`
	Direction string    `json:"direction"`
}

// Publisher is the abstraction over delivery backends.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// InMemory is a bounded channel-backed publisher for dev/testing.
type InMemory struct {
	ch chan Event
}

// NewInMemory creates a bounded in-memory publisher.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Event, size)}
}

// Publish enqueues an event, dropping it when the buffer is full so a
// missing consumer never blocks ingestion.
func (p *InMemory) Publish(ctx context.Context, evt Event) error {
	select {
	case p.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Events exposes the buffered stream for consumers.
func (p *InMemory) Events() <-chan Event {
	return p.ch
}

// RedisPublisher pushes events onto a Redis list the reporting domain pops.
type RedisPublisher struct {
	client *redis.Client
	key    string
}

// NewRedisPublisher builds a publisher using LPUSH semantics.
func NewRedisPublisher(client *redis.Client, key string) *RedisPublisher {
	if key == "" {
		key = "attendance:events"
	}
	return &RedisPublisher{client: client, key: key}
}

// Publish enqueues one event as JSON.
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.LPush(ctx, p.key, body).Err()
}
