// Package storage provides the two storage abstractions used by shardmesh.
//
// Table is a transient, process-local keyed store. The migration override
// table (server → executing shard) and the relocation lock table are Tables.
// Neither survives a restart; keeping them behind an interface lets a
// persistent or replicated store be substituted later without changing the
// resolver or the lock manager.
//
// Backend is a bucketed byte store backing the durable shard registry. Two
// implementations exist:
//
//	┌──────────────────────┐
//	│   registry.Registry  │  JSON records per bucket
//	└──────────┬───────────┘
//	           │ Backend
//	    ┌──────┴───────┐
//	    ▼              ▼
//	┌────────┐   ┌───────────┐
//	│ Memory │   │   bbolt   │  "file:/var/lib/shardmesh/registry.db"
//	└────────┘   └───────────┘
//
// Thread Safety:
// Every implementation is safe for concurrent use. Locks are held only for
// the duration of a single in-memory operation or bolt transaction.
package storage
