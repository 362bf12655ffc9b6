package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardmesh/internal/agent"
	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/remote"
)

// scripted answers probes from a per-shard status table.
type scripted struct {
	mu     sync.Mutex
	status map[int]remote.Status
	calls  int
}

func (s *scripted) probe(_ context.Context, shard cluster.Shard) remote.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.status[shard.ID]
}

func (s *scripted) set(id int, st remote.Status) {
	s.mu.Lock()
	s.status[id] = st
	s.mu.Unlock()
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCheckTransitions(t *testing.T) {
	probe := &scripted{status: map[int]remote.Status{1: remote.StatusUp, 2: remote.StatusDown}}
	m := NewMonitor(probe.probe, time.Hour, time.Second, 2, logging.NewTestLogger())

	unhealthy := make(chan int, 4)
	recovered := make(chan int, 4)
	m.SetOnUnhealthy(func(s cluster.Shard) { unhealthy <- s.ID })
	m.SetOnRecovered(func(s cluster.Shard) { recovered <- s.ID })

	shards := []cluster.Shard{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	ctx := context.Background()

	m.Check(ctx, shards)
	assert.Equal(t, remote.StatusUp, m.ShardStatus(1))
	assert.Equal(t, remote.StatusUnknown, m.ShardStatus(2), "one failure is not enough")

	m.Check(ctx, shards)
	m.Check(ctx, shards)
	assert.Equal(t, remote.StatusDown, m.ShardStatus(2))
	assert.Equal(t, 3, m.ShardHealth(2).ConsecutiveFails)

	select {
	case id := <-unhealthy:
		assert.Equal(t, 2, id)
	case <-time.After(time.Second):
		t.Fatal("unhealthy callback not invoked")
	}

	m.Check(ctx, shards)
	assert.Len(t, unhealthy, 0, "callback fires once per transition")

	probe.set(2, remote.StatusUp)
	m.Check(ctx, shards)
	assert.Equal(t, remote.StatusUp, m.ShardStatus(2))
	assert.Equal(t, 0, m.ShardHealth(2).ConsecutiveFails)

	select {
	case id := <-recovered:
		assert.Equal(t, 2, id)
	case <-time.After(time.Second):
		t.Fatal("recovered callback not invoked")
	}
}

func TestUnknownProbeKeepsState(t *testing.T) {
	probe := &scripted{status: map[int]remote.Status{1: remote.StatusUp}}
	m := NewMonitor(probe.probe, time.Hour, 0, 1, logging.NewTestLogger())
	shards := []cluster.Shard{{ID: 1}}

	m.Check(context.Background(), shards)
	probe.set(1, remote.StatusUnknown)
	m.Check(context.Background(), shards)

	assert.Equal(t, remote.StatusUp, m.ShardStatus(1))
}

func TestProbeDeadlineCountsAsFailure(t *testing.T) {
	probe := &scripted{status: map[int]remote.Status{1: remote.StatusUnknown}}
	slow := func(ctx context.Context, shard cluster.Shard) remote.Status {
		<-ctx.Done()
		return probe.probe(ctx, shard)
	}
	m := NewMonitor(slow, time.Hour, 20*time.Millisecond, 1, logging.NewTestLogger())
	m.SetMaxFailures(2)
	shards := []cluster.Shard{{ID: 1}}

	m.Check(context.Background(), shards)
	assert.Equal(t, 1, m.ShardHealth(1).ConsecutiveFails)
	m.Check(context.Background(), shards)
	assert.Equal(t, remote.StatusDown, m.ShardStatus(1))
}

func TestHungAgentIsMarkedDown(t *testing.T) {
	var hung atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hung.Load() {
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"osName":"linux"}`))
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	shards := []cluster.Shard{{ID: 1, Name: "a", Fqdn: u.Hostname(), Token: "tok", ShardPort: port}}

	client := agent.NewClient(remote.NewClient(5 * time.Second))
	m := NewMonitor(client.Probe, time.Hour, 50*time.Millisecond, 1, logging.NewTestLogger())
	unhealthy := make(chan int, 1)
	m.SetOnUnhealthy(func(s cluster.Shard) { unhealthy <- s.ID })

	ctx := context.Background()
	m.Check(ctx, shards)
	require.Equal(t, remote.StatusUp, m.ShardStatus(1))

	hung.Store(true)
	for i := 0; i < 3; i++ {
		m.Check(ctx, shards)
	}
	assert.Equal(t, remote.StatusDown, m.ShardStatus(1))

	select {
	case id := <-unhealthy:
		assert.Equal(t, 1, id)
	case <-time.After(time.Second):
		t.Fatal("unhealthy callback not invoked")
	}
}

func TestRemovedShardsAreForgotten(t *testing.T) {
	probe := &scripted{status: map[int]remote.Status{1: remote.StatusUp, 2: remote.StatusUp}}
	m := NewMonitor(probe.probe, time.Hour, 0, 4, logging.NewTestLogger())

	m.Check(context.Background(), []cluster.Shard{{ID: 1}, {ID: 2}})
	require.Len(t, m.All(), 2)

	m.Check(context.Background(), []cluster.Shard{{ID: 1}})
	assert.Len(t, m.All(), 1)
	assert.Nil(t, m.ShardHealth(2))
	assert.Equal(t, remote.StatusUnknown, m.ShardStatus(2))
}

func TestStartStopsWithContext(t *testing.T) {
	probe := &scripted{status: map[int]remote.Status{1: remote.StatusUp}}
	m := NewMonitor(probe.probe, 20*time.Millisecond, 0, 1, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx, func() ([]cluster.Shard, error) { return []cluster.Shard{{ID: 1}}, nil })

	assert.Eventually(t, func() bool { return probe.count() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	m.Wait()
	assert.Equal(t, remote.StatusUp, m.ShardStatus(1))
}
