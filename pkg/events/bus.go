// Package events delivers per-session progress updates to local
// subscribers (WebSocket handlers) and, when Redis is configured,
// across processes via pub/sub on the session's progress channel.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dossier-hq/dossier/pkg/models"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind than this misses events rather than
// blocking the pipeline.
const subscriberBuffer = 16

// ProgressChannel returns the Redis channel for a session's events.
// Format: "progress:{session_id}".
func ProgressChannel(sessionID string) string {
	return "progress:" + sessionID
}

// progressChannelPattern matches every session's progress channel.
const progressChannelPattern = "progress:*"

// envelope wraps an event on the wire so a process can recognize and
// skip its own publications when they echo back via Redis.
type envelope struct {
	Origin string               `json:"origin"`
	Event  models.ProgressEvent `json:"event"`
}

// Subscription is one local subscriber's event stream.
type Subscription struct {
	C         <-chan models.ProgressEvent
	ch        chan models.ProgressEvent
	sessionID string
	id        int
}

// Bus fans progress events out to local subscribers and mirrors them to
// Redis. Without Redis the bus is local-only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan models.ProgressEvent
	nextID int

	redis  *redis.Client
	origin string
}

// NewBus creates a bus. client may be nil for local-only operation.
func NewBus(client *redis.Client) *Bus {
	return &Bus{
		subs:   make(map[string]map[int]chan models.ProgressEvent),
		redis:  client,
		origin: uuid.NewString(),
	}
}

// Subscribe registers a local subscriber for one session's events.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan models.ProgressEvent, subscriberBuffer)
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan models.ProgressEvent)
	}
	b.subs[sessionID][b.nextID] = ch
	return &Subscription{C: ch, ch: ch, sessionID: sessionID, id: b.nextID}
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sessionSubs, ok := b.subs[sub.sessionID]
	if !ok {
		return
	}
	ch, ok := sessionSubs[sub.id]
	if !ok {
		return
	}
	delete(sessionSubs, sub.id)
	if len(sessionSubs) == 0 {
		delete(b.subs, sub.sessionID)
	}
	close(ch)
}

// Publish delivers an event to every local subscriber of the session
// and mirrors it to Redis. Delivery to slow subscribers is skipped, not
// waited for: progress events are advisory.
func (b *Bus) Publish(ctx context.Context, ev models.ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.deliverLocal(ev)

	if b.redis == nil {
		return
	}
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		slog.Error("Failed to encode progress event", "error", err)
		return
	}
	if err := b.redis.Publish(ctx, ProgressChannel(ev.SessionID), payload).Err(); err != nil {
		slog.Error("Failed to publish progress event to Redis",
			"session_id", ev.SessionID, "error", err)
	}
}

func (b *Bus) deliverLocal(ev models.ProgressEvent) {
	// Snapshot subscribers under the read lock, send outside it.
	b.mu.RLock()
	channels := make([]chan models.ProgressEvent, 0, len(b.subs[ev.SessionID]))
	for _, ch := range b.subs[ev.SessionID] {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping progress event for slow subscriber",
				"session_id", ev.SessionID, "agent", ev.Agent)
		}
	}
}

// Run consumes the Redis pattern subscription and re-broadcasts events
// published by other processes to local subscribers. Blocks until the
// context is cancelled. A nil Redis client makes Run a no-op.
func (b *Bus) Run(ctx context.Context) error {
	if b.redis == nil {
		<-ctx.Done()
		return nil
	}

	sub := b.redis.PSubscribe(ctx, progressChannelPattern)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("Discarding malformed progress event",
					"channel", msg.Channel, "error", err)
				continue
			}
			// Our own events were already delivered locally at publish
			// time.
			if env.Origin == b.origin {
				continue
			}
			if env.Event.SessionID == "" {
				env.Event.SessionID = strings.TrimPrefix(msg.Channel, "progress:")
			}
			b.deliverLocal(env.Event)
		}
	}
}
