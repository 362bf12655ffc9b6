// Package events is the in-process notification bus. Components emit events
// on dotted topics such as server.{uuid}.statusChanged; subscribers match
// topics with shell patterns, so server.*.statusChanged sees every server.
package events

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/dreamware/shardmesh/internal/logging"
)

// Well known event names.
const (
	StatusChanged   = "statusChanged"
	InstallComplete = "installComplete"
	Reconnect       = "reconnect"
	StateReset      = "stateReset"
	Migration       = "migration"
	Unhealthy       = "unhealthy"
	Recovered       = "recovered"
)

// ServerTopic returns server.{uuid}.{name}.
func ServerTopic(id uuid.UUID, name string) string {
	return fmt.Sprintf("server.%s.%s", id, name)
}

// ShardTopic returns shard.{id}.{name}.
func ShardTopic(id int, name string) string {
	return fmt.Sprintf("shard.%d.%s", id, name)
}

// Event is a single notification.
type Event struct {
	Topic   string    `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(ctx context.Context, e Event)

// Sink forwards events out of process.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type subscription struct {
	id      int
	pattern string
	handler Handler
}

// Bus dispatches events to subscribers and sinks.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	sinks  []Sink
	log    logr.Logger
	now    func() time.Time
}

// NewBus returns a bus forwarding every event to sinks.
func NewBus(log logr.Logger, sinks ...Sink) *Bus {
	return &Bus{
		sinks: sinks,
		log:   log.WithName("events"),
		now:   time.Now,
	}
}

// Subscribe registers handler for topics matching pattern and returns a
// function removing the subscription.
func (b *Bus) Subscribe(pattern string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers an event to matching subscribers, then to the sinks. Sink
// failures are logged and never returned.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) {
	e := Event{Topic: topic, Time: b.now(), Payload: payload}

	b.mu.RLock()
	var handlers []Handler
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, topic); ok {
			handlers = append(handlers, s.handler)
		}
	}
	sinks := b.sinks
	b.mu.RUnlock()

	b.log.V(logging.TRACE).Info("emitting event", "topic", topic, "subscribers", len(handlers))
	for _, h := range handlers {
		h(ctx, e)
	}
	for _, s := range sinks {
		if err := s.Publish(ctx, e); err != nil {
			b.log.Error(err, "publishing event", "topic", topic)
		}
	}
}
