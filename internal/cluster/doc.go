// Package cluster defines the shared data model of shardmesh: shards, shard
// spaces, shard proxies, allocations and servers, together with the JSON
// payload schemas exchanged with shard daemons, shard agents and shard
// proxies.
//
// # Topology
//
// Shards are grouped into shard spaces. Every space is fronted by at most one
// proxy which forwards the public ports of a server to the shard that is
// currently executing it:
//
//	               ┌─────────────┐
//	players ──────►│ ShardProxy  │  firewall/nat/{ip}/{port}
//	               └──────┬──────┘
//	        ┌─────────────┼─────────────┐
//	  ┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	  │  Shard 1  │ │  Shard 2  │ │  Shard 3  │
//	  │  (home)   │ │ (current) │ │           │
//	  └───────────┘ └───────────┘ └───────────┘
//	        └───── ShardSpace "eu-1" ───┘
//
// A server's home shard owns its persistent data (volume, backups). When it
// is relocated, the volume is bind mounted from the home shard into the
// target shard and only the executing shard changes.
//
// # Payloads
//
// Every remote endpoint has a named request or response struct in
// payloads.go. Nothing is exchanged as untyped JSON.
package cluster
