// Package notify implements the school-room fan-out: every committed
// queue mutation is published to a per-school Redis channel, and the
// WebSocket hub relays those messages to every connected viewer of the
// room (parent app, staff board, kiosk).  Viewers treat any message as
// "the queue changed" and re-fetch the snapshot endpoint; delivery is
// convergence, not a delta stream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carline/pickup-queue/internal/pickup"
)

// RoomChannel returns the Redis channel name of a school's room.
func RoomChannel(schoolID uint64) string {
	return fmt.Sprintf("school:%d:queue", schoolID)
}

// QueueChangedEvent is the JSON payload published to a school room.
type QueueChangedEvent struct {
	Kind      string `json:"kind"` // added | called | picked_up | removed
	SchoolID  uint64 `json:"school_id"`
	StudentID uint64 `json:"student_id,omitempty"`
	Position  int    `json:"position,omitempty"`
	At        string `json:"at"` // RFC3339 UTC
}

// Publisher implements pickup.Notifier on Redis pub/sub.  A nil client
// degrades to a no-op so the scan path keeps working when Redis is
// down; viewers then rely on the polling fallback.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher returns a Publisher.  rdb may be nil.
func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

// QueueChanged publishes the change to the school room.  Errors are
// logged and swallowed: the mutation already committed and must not be
// reported as failed because fan-out hiccuped.
func (p *Publisher) QueueChanged(ctx context.Context, ev pickup.ChangeEvent) {
	if p.rdb == nil {
		return
	}
	payload := QueueChangedEvent{
		Kind:      ev.Kind,
		SchoolID:  ev.SchoolID,
		StudentID: ev.StudentID,
		Position:  ev.Position,
		At:        ev.At.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notify: marshal queue event failed: %v", err)
		return
	}
	if err := p.rdb.Publish(ctx, RoomChannel(ev.SchoolID), body).Err(); err != nil {
		log.Printf("notify: publish to %s failed: %v", RoomChannel(ev.SchoolID), err)
	}
}

// Subscriber yields the raw messages of one school room.  It exists as
// an interface so the hub can be exercised in tests without a Redis
// server.
type Subscriber interface {
	// Subscribe returns a channel of room payloads and a cancel
	// function that releases the subscription.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func())
}

// RedisSubscriber implements Subscriber on Redis pub/sub.
type RedisSubscriber struct {
	rdb *redis.Client
}

// NewRedisSubscriber returns a RedisSubscriber.  rdb may be nil, in
// which case subscriptions deliver nothing and viewers fall back to
// polling.
func NewRedisSubscriber(rdb *redis.Client) *RedisSubscriber {
	return &RedisSubscriber{rdb: rdb}
}

// Subscribe opens a Redis subscription on the given channel and pumps
// its payloads until cancelled.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	out := make(chan []byte, 16)
	if s.rdb == nil {
		return out, func() { close(out) }
	}
	ps := s.rdb.Subscribe(ctx, channel)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				default:
					// Slow room; drop rather than block the pump.
					// Viewers re-fetch snapshots, so a lost event
					// only delays convergence until the next one.
				}
			case <-done:
				return
			}
		}
	}()
	cancel := func() {
		close(done)
		_ = ps.Close()
	}
	return out, cancel
}
