// Package lock keeps the set of servers with a relocation in flight.
package lock

import (
	"context"
	"sort"

	"github.com/go-logr/logr"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/events"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/storage"
)

// Emitter is the part of the event bus the manager needs.
type Emitter interface {
	Emit(ctx context.Context, topic string, payload any)
}

// Manager hands out per-server relocation locks. TryLock never blocks and
// no lock is ever held across a network call.
type Manager struct {
	table   storage.Table[int, struct{}]
	emitter Emitter
	log     logr.Logger
}

// NewManager returns a manager over table. A nil table selects an in-memory
// one; a nil emitter disables notifications.
func NewManager(table storage.Table[int, struct{}], emitter Emitter, log logr.Logger) *Manager {
	if table == nil {
		table = storage.NewMemoryTable[int, struct{}]()
	}
	return &Manager{table: table, emitter: emitter, log: log.WithName("lock")}
}

// TryLock atomically marks the server as locked. It returns false when the
// server already was.
func (m *Manager) TryLock(serverID int) bool {
	ok := m.table.PutIfAbsent(serverID, struct{}{})
	m.log.V(logging.DEBUG).Info("lock requested", "server", serverID, "acquired", ok)
	return ok
}

// Unlock releases the server's lock. It is idempotent and always emits
// server.{uuid}.statusChanged, even when no lock was held.
func (m *Manager) Unlock(ctx context.Context, server cluster.Server) {
	held := m.table.Delete(server.ID)
	m.log.V(logging.DEBUG).Info("lock released", "server", server.ID, "held", held)
	if m.emitter != nil {
		m.emitter.Emit(ctx, events.ServerTopic(server.UUID, events.StatusChanged), map[string]any{
			"server": server.ID,
			"locked": false,
		})
	}
}

func (m *Manager) IsLocked(serverID int) bool {
	_, ok := m.table.Get(serverID)
	return ok
}

// Locked returns the ids of every locked server in ascending order.
func (m *Manager) Locked() []int {
	ids := m.table.Keys()
	sort.Ints(ids)
	return ids
}
