package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardmesh/internal/logging"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestTopics(t *testing.T) {
	id := uuid.MustParse("7b7c6a4e-1a7e-4c1a-9a53-2a1e0c9f3b11")
	assert.Equal(t, "server.7b7c6a4e-1a7e-4c1a-9a53-2a1e0c9f3b11.statusChanged", ServerTopic(id, StatusChanged))
	assert.Equal(t, "shard.3.stateReset", ShardTopic(3, StateReset))
}

func TestSubscribeMatching(t *testing.T) {
	bus := NewBus(logging.NewTestLogger())
	id := uuid.New()

	var exact, wildcard, shard []string
	bus.Subscribe(ServerTopic(id, StatusChanged), func(_ context.Context, e Event) { exact = append(exact, e.Topic) })
	bus.Subscribe("server.*.statusChanged", func(_ context.Context, e Event) { wildcard = append(wildcard, e.Topic) })
	bus.Subscribe("shard.*", func(_ context.Context, e Event) { shard = append(shard, e.Topic) })

	ctx := context.Background()
	bus.Emit(ctx, ServerTopic(id, StatusChanged), nil)
	bus.Emit(ctx, ServerTopic(uuid.New(), StatusChanged), nil)
	bus.Emit(ctx, ServerTopic(id, Reconnect), nil)
	bus.Emit(ctx, ShardTopic(1, StateReset), nil)

	assert.Len(t, exact, 1)
	assert.Len(t, wildcard, 2)
	assert.Equal(t, []string{"shard.1.stateReset"}, shard)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(logging.NewTestLogger())
	count := 0
	unsubscribe := bus.Subscribe("a", func(context.Context, Event) { count++ })

	bus.Emit(context.Background(), "a", nil)
	unsubscribe()
	unsubscribe()
	bus.Emit(context.Background(), "a", nil)

	assert.Equal(t, 1, count)
}

func TestSinkFailureIsIgnored(t *testing.T) {
	failing := &recordingSink{err: fmt.Errorf("broker down")}
	ok := &recordingSink{}
	bus := NewBus(logging.NewTestLogger(), failing, ok)

	bus.Emit(context.Background(), "server.x.migration", map[string]string{"state": "Locked"})

	require.Len(t, ok.events, 1)
	assert.Equal(t, "server.x.migration", ok.events[0].Topic)
	assert.Len(t, failing.events, 1)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}
	bus := NewBus(logging.NewTestLogger(), sink)

	bus.Emit(context.Background(), ShardTopic(2, Unhealthy), map[string]int{"failures": 3})

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "shard.2.unhealthy", string(w.msgs[0].Key))

	var got struct {
		Topic   string         `json:"topic"`
		Payload map[string]int `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "shard.2.unhealthy", got.Topic)
	assert.Equal(t, 3, got.Payload["failures"])

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSink(t *testing.T) {
	_, err := NewKafkaSink(" , ", "events")
	assert.Error(t, err)
	_, err = NewKafkaSink("localhost:9092", "")
	assert.Error(t, err)

	sink, err := NewKafkaSink("localhost:9092, localhost:9093", "events")
	require.NoError(t, err)
	w, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "events", w.Topic)
}
