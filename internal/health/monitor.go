// Package health periodically probes the agent of every registered shard and
// keeps the last known liveness of each one.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/remote"
)

// ShardHealth tracks the liveness of a single shard.
// Thread-safe: Protected by Monitor's mutex when accessed.
type ShardHealth struct {
	LastCheck        time.Time     `json:"last_check"`   // Timestamp of the last probe
	LastHealthy      time.Time     `json:"last_healthy"` // Timestamp of the last Up probe
	ShardID          int           `json:"shard_id"`
	Name             string        `json:"name"`
	Status           remote.Status `json:"status"`            // Up, Down or Unknown
	ConsecutiveFails int           `json:"consecutive_fails"` // Down probes in a row
}

// ProbeFunc checks one shard. The agent client's Probe is the usual value.
type ProbeFunc func(ctx context.Context, shard cluster.Shard) remote.Status

// Monitor performs periodic liveness checks on all registered shards.
//
// A shard starts Unknown, becomes Up after one successful probe and Down
// after maxFailures failed probes in a row. Probes answering Unknown (the
// context was cancelled) leave the state untouched.
//
// Thread-safe: All methods are safe for concurrent access.
type Monitor struct {
	shards      map[int]*ShardHealth
	probe       ProbeFunc
	onUnhealthy func(shard cluster.Shard)
	onRecovered func(shard cluster.Shard)
	log         logr.Logger
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
	fanout      int
}

// NewMonitor creates a monitor probing every interval. Each probe is bounded
// by timeout; at most fanout probes run at once.
//
// Example:
//
//	monitor := health.NewMonitor(agents.Probe, 10*time.Second, 2*time.Second, 8, log)
//	go monitor.Start(ctx, reg.Shards)
func NewMonitor(probe ProbeFunc, interval, timeout time.Duration, fanout int, log logr.Logger) *Monitor {
	if fanout <= 0 {
		fanout = 8
	}
	return &Monitor{
		shards:      make(map[int]*ShardHealth),
		probe:       probe,
		log:         log.WithName("health"),
		interval:    interval,
		timeout:     timeout,
		maxFailures: 3,
		fanout:      fanout,
	}
}

// SetMaxFailures sets how many failed probes in a row mark a shard Down.
func (m *Monitor) SetMaxFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.maxFailures = n
	}
}

// SetOnUnhealthy sets the callback invoked when a shard transitions to Down.
// The callback runs on its own goroutine.
func (m *Monitor) SetOnUnhealthy(callback func(shard cluster.Shard)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnhealthy = callback
}

// SetOnRecovered sets the callback invoked when a Down shard answers again.
func (m *Monitor) SetOnRecovered(callback func(shard cluster.Shard)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovered = callback
}

// Start probes all shards returned by provider immediately and then every
// interval. It blocks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, provider func() ([]cluster.Shard, error)) {
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("health monitor started", "interval", m.interval)

	m.checkFromProvider(ctx, provider)
	for {
		select {
		case <-ticker.C:
			m.checkFromProvider(ctx, provider)
		case <-ctx.Done():
			m.log.Info("health monitor stopping")
			return
		}
	}
}

// Wait blocks until Start has returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) checkFromProvider(ctx context.Context, provider func() ([]cluster.Shard, error)) {
	shards, err := provider()
	if err != nil {
		m.log.Error(err, "listing shards for health checks")
		return
	}
	m.Check(ctx, shards)
}

// Check probes the given shards once and forgets shards no longer listed.
func (m *Monitor) Check(ctx context.Context, shards []cluster.Shard) {
	current := make(map[int]bool, len(shards))

	g := new(errgroup.Group)
	g.SetLimit(m.fanout)
	for _, shard := range shards {
		shard := shard
		current[shard.ID] = true
		g.Go(func() error {
			m.checkShard(ctx, shard)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for id := range m.shards {
		if !current[id] {
			delete(m.shards, id)
			m.log.V(logging.DEBUG).Info("removed shard from health monitoring", "shard", id)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) checkShard(ctx context.Context, shard cluster.Shard) {
	m.mu.Lock()
	h, ok := m.shards[shard.ID]
	if !ok {
		h = &ShardHealth{ShardID: shard.ID, Name: shard.Name, Status: remote.StatusUnknown}
		m.shards[shard.ID] = h
	}
	m.mu.Unlock()

	probeCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	status := m.probe(probeCtx, shard)
	// A probe that outlived its own deadline is a hung host, not an aborted check.
	if status == remote.StatusUnknown && ctx.Err() == nil && probeCtx.Err() == context.DeadlineExceeded {
		status = remote.StatusDown
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	h.LastCheck = now
	h.Name = shard.Name

	switch status {
	case remote.StatusUp:
		if h.Status == remote.StatusDown {
			m.log.Info("shard recovered", "shard", shard.Name)
			if m.onRecovered != nil {
				go m.onRecovered(shard)
			}
		}
		h.Status = remote.StatusUp
		h.ConsecutiveFails = 0
		h.LastHealthy = now
	case remote.StatusDown:
		h.ConsecutiveFails++
		m.log.V(logging.DEBUG).Info("shard probe failed", "shard", shard.Name, "attempt", h.ConsecutiveFails, "max", m.maxFailures)
		if h.ConsecutiveFails >= m.maxFailures && h.Status != remote.StatusDown {
			h.Status = remote.StatusDown
			m.log.Info("shard marked unhealthy", "shard", shard.Name, "failures", h.ConsecutiveFails)
			if m.onUnhealthy != nil {
				go m.onUnhealthy(shard)
			}
		}
	}
}

// ShardHealth returns a copy of the shard's record, or nil if the shard is
// not monitored.
func (m *Monitor) ShardHealth(shardID int) *ShardHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.shards[shardID]
	if !ok {
		return nil
	}
	c := *h
	return &c
}

// All returns copies of every record keyed by shard id.
func (m *Monitor) All() map[int]ShardHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]ShardHealth, len(m.shards))
	for id, h := range m.shards {
		out[id] = *h
	}
	return out
}

// ShardStatus returns the last known status, Unknown for unmonitored shards.
func (m *Monitor) ShardStatus(shardID int) remote.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.shards[shardID]; ok {
		return h.Status
	}
	return remote.StatusUnknown
}
