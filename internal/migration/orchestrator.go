// Package migration relocates a server from its home shard to another shard
// of its space.
//
// A relocation walks a fixed sequence of steps while holding the server's
// lock:
//
//	Idle → Locked → HostValidated → NatCleared → NatApplied →
//	VolumeUnmounted → VolumeMounted → OverrideCommitted → Synced →
//	PowerSignalSent → Idle
//
// Teardown steps are best effort and fan out over every registered shard.
// Apply steps are fatal. Any failure after the lock is taken ends in
// RolledBack with the lock released.
package migration

import (
	"context"
	"path"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/events"
	"github.com/dreamware/shardmesh/internal/lock"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/metrics"
	"github.com/dreamware/shardmesh/internal/nat"
	"github.com/dreamware/shardmesh/internal/placement"
	"github.com/dreamware/shardmesh/internal/remote"
	"github.com/dreamware/shardmesh/internal/resolver"
)

// DefaultVolumeRoot is where shard daemons keep server volumes.
const DefaultVolumeRoot = "/var/lib/pterodactyl/volumes"

// NatController manages forwarding rules on a shard proxy.
type NatController interface {
	AddNat(ctx context.Context, proxy cluster.ShardProxy, ip string, port int) error
	RemoveNat(ctx context.Context, proxy cluster.ShardProxy, ip string, port int) error
	Probe(ctx context.Context, proxy cluster.ShardProxy) remote.Status
}

// MountController binds volumes across shards.
type MountController interface {
	Mount(ctx context.Context, shard cluster.Shard, remoteHost, remotePath, localPath string) error
	Unmount(ctx context.Context, shard cluster.Shard, path string) error
}

// HostProber reports shard agent liveness.
type HostProber interface {
	Probe(ctx context.Context, shard cluster.Shard) remote.Status
}

// Daemon is the set of routed daemon calls the relocation issues. All of
// them follow the server's current shard.
type Daemon interface {
	Details(ctx context.Context, server cluster.Server) (cluster.ServerDetails, error)
	SyncDaemon(ctx context.Context, server cluster.Server) error
	SetPowerState(ctx context.Context, server cluster.Server, signal cluster.PowerSignal) error
}

// Emitter publishes lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, topic string, payload any)
}

// Config holds the tunables of the orchestrator.
type Config struct {
	// Fanout bounds concurrent teardown calls.
	Fanout int
	// VolumeRoot is joined with the server uuid to form the volume path.
	VolumeRoot string
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Resolver *resolver.Resolver
	Locks    *lock.Manager
	Nat      NatController
	Mounts   MountController
	Hosts    HostProber
	Daemon   Daemon
	IPs      nat.IPResolver
	Policy   placement.Policy
	Events   Emitter
}

// TargetResult is the outcome of one best-effort teardown call.
type TargetResult struct {
	ShardID int    `json:"shard_id"`
	Shard   string `json:"shard"`
	IP      string `json:"ip,omitempty"`
	Port    int    `json:"port,omitempty"`
	Err     error  `json:"-"`
	Error   string `json:"error,omitempty"`
}

// Result describes a finished relocation.
type Result struct {
	Server        cluster.Server `json:"server"`
	Home          cluster.Shard  `json:"home"`
	Target        cluster.Shard  `json:"target"`
	Proxy         string         `json:"proxy"`
	Mounted       bool           `json:"mounted"`
	NatTeardown   []TargetResult `json:"nat_teardown"`
	MountTeardown []TargetResult `json:"mount_teardown"`
	States        []State        `json:"states"`
}

// Orchestrator runs relocations. Relocations of different servers proceed
// in parallel; the lock manager refuses a second one for the same server.
type Orchestrator struct {
	deps Deps
	cfg  Config
	log  logr.Logger
}

// NewOrchestrator returns an orchestrator. Zero Config values and a nil
// Policy or IPs select the defaults.
func NewOrchestrator(deps Deps, cfg Config, log logr.Logger) *Orchestrator {
	if cfg.Fanout <= 0 {
		cfg.Fanout = 8
	}
	if cfg.VolumeRoot == "" {
		cfg.VolumeRoot = DefaultVolumeRoot
	}
	if deps.Policy == nil {
		deps.Policy = placement.First{}
	}
	if deps.IPs == nil {
		deps.IPs = nat.DNSResolver{}
	}
	return &Orchestrator{deps: deps, cfg: cfg, log: log.WithName("migration")}
}

// VolumePath returns the volume location of a server on every shard.
func (o *Orchestrator) VolumePath(server cluster.Server) string {
	return path.Join(o.cfg.VolumeRoot, server.UUID.String())
}

// run carries the state of one relocation.
type run struct {
	o      *Orchestrator
	ctx    context.Context
	server cluster.Server
	log    logr.Logger
	result *Result
}

func (r *run) enter(s State) {
	r.result.States = append(r.result.States, s)
	r.log.V(logging.DEBUG).Info("relocation state", "state", s.String())
	if r.o.deps.Events != nil {
		payload := map[string]any{"server": r.server.ID, "state": s.String()}
		if r.result.Target.ID != 0 {
			payload["target"] = r.result.Target.ID
		}
		r.o.deps.Events.Emit(r.ctx, events.ServerTopic(r.server.UUID, events.Migration), payload)
	}
}

// StartServer relocates server to target and powers it on there. A nil
// target lets the placement policy choose among the shards of the server's
// space. Relocating to the home shard skips the volume bind.
func (o *Orchestrator) StartServer(ctx context.Context, server cluster.Server, target *cluster.Shard) (result *Result, err error) {
	start := time.Now()
	r := &run{
		o:      o,
		ctx:    ctx,
		server: server,
		log:    o.log.WithValues("server", server.ID, "uuid", server.UUID.String()),
		result: &Result{Server: server},
	}
	defer func() {
		code := "ok"
		if err != nil {
			code = string(errors.CodeOf(err))
			if code == "" {
				code = string(errors.ErrUncoded)
			}
		}
		metrics.RecordMigration(code, time.Since(start))
		metrics.SetOverrides(len(o.deps.Resolver.Overrides()))
	}()

	// 1. refuse early
	if o.deps.Locks.IsLocked(server.ID) {
		return nil, errors.New(errors.ErrAlreadyLocked, "Server is already locked")
	}
	home, err := o.deps.Resolver.HomeShard(server.ID)
	if err != nil {
		return nil, err
	}
	r.result.Home = home
	if st := o.deps.Hosts.Probe(ctx, home); st != remote.StatusUp {
		return nil, errors.Newf(errors.ErrHostDown, "Host system of the server is offline (%s)", st)
	}

	// 2. lock; released on every exit path below
	if !o.deps.Locks.TryLock(server.ID) {
		return nil, errors.New(errors.ErrAlreadyLocked, "Server is already locked")
	}
	metrics.SetLocked(len(o.deps.Locks.Locked()))
	defer func() {
		if err != nil {
			r.enter(StateRolledBack)
			r.log.Info("relocation failed", "error", err.Error())
		}
		o.deps.Locks.Unlock(ctx, server)
		metrics.SetLocked(len(o.deps.Locks.Locked()))
		r.enter(StateIdle)
	}()
	r.enter(StateLocked)

	if err := r.steps(target); err != nil {
		return nil, err
	}
	r.log.Info("relocation finished", "target", r.result.Target.Name, "mounted", r.result.Mounted)
	return r.result, nil
}

func (r *run) steps(explicit *cluster.Shard) error {
	o, ctx, server := r.o, r.ctx, r.server

	// 3. must be offline
	details, err := o.deps.Daemon.Details(ctx, server)
	if err != nil {
		return errors.Wrap(err, "fetching server details")
	}
	if details.State != cluster.StateOffline {
		return errors.Newf(errors.ErrNotOffline, "Server is not offline (%s)", details.State)
	}
	r.enter(StateHostValidated)

	// 4. reset any stale override
	o.deps.Resolver.ClearOverride(server.ID)

	// 5. space and proxy
	_, proxy, err := o.deps.Resolver.Proxy(server.ID)
	if err != nil {
		return err
	}
	r.result.Proxy = proxy.Name

	// 6. proxy reachable
	if st := o.deps.Nat.Probe(ctx, proxy); st != remote.StatusUp {
		return errors.Newf(errors.ErrProxyDown, "Shard proxy is offline (%s)", st)
	}

	// 7. target
	target, err := r.pickTarget(explicit)
	if err != nil {
		return err
	}
	r.result.Target = target

	allocations, err := o.deps.Resolver.Registry().Allocations(server.ID)
	if err != nil {
		return err
	}
	shards, err := o.deps.Resolver.Registry().Shards()
	if err != nil {
		return err
	}

	// 8. nat teardown
	r.result.NatTeardown = r.natTeardown(proxy, allocations, shards)
	r.enter(StateNatCleared)

	// 9. nat apply
	ip, err := o.deps.IPs.ResolveIP(ctx, target.Fqdn)
	if err != nil {
		return errors.WrapCode(err, errors.ErrNetworkSetupFailed, "Unable to resolve target shard address")
	}
	for _, a := range allocations {
		if err := o.deps.Nat.AddNat(ctx, proxy, ip, a.Port); err != nil {
			return errors.WrapCode(err, errors.ErrNetworkSetupFailed, "Unable to setup network for the server")
		}
	}
	r.enter(StateNatApplied)

	// 10. mount teardown
	volume := o.VolumePath(server)
	r.result.MountTeardown = r.mountTeardown(volume, shards)
	r.enter(StateVolumeUnmounted)

	// 11. mount apply, only away from home
	if target.ID != r.result.Home.ID {
		if err := o.deps.Mounts.Mount(ctx, target, r.result.Home.Fqdn, volume, volume); err != nil {
			return errors.WrapCode(err, errors.ErrMountFailed, "Unable to mount the server volume on the target shard")
		}
		r.result.Mounted = true
		r.enter(StateVolumeMounted)
	}

	// 12. commit override
	o.deps.Resolver.SetOverride(server.ID, target)
	r.enter(StateOverrideCommitted)

	// 13. re-register on the current shard
	if err := o.deps.Daemon.SyncDaemon(ctx, server); err != nil {
		o.deps.Resolver.ClearOverride(server.ID)
		return errors.Wrap(err, "registering server on target shard")
	}
	r.enter(StateSynced)

	// 14. power on
	if err := o.deps.Daemon.SetPowerState(ctx, server, cluster.PowerStart); err != nil {
		return errors.Wrap(err, "starting server on target shard")
	}
	r.enter(StatePowerSignalSent)
	return nil
}

func (r *run) pickTarget(explicit *cluster.Shard) (cluster.Shard, error) {
	candidates, err := r.o.deps.Resolver.SpaceShards(r.server.ID)
	if err != nil {
		return cluster.Shard{}, err
	}
	if explicit == nil {
		return r.o.deps.Policy.Pick(r.server, candidates)
	}
	// The proxy only fronts shards of its own space.
	for _, c := range candidates {
		if c.ID == explicit.ID {
			return *explicit, nil
		}
	}
	return cluster.Shard{}, errors.Newf(errors.ErrNoShardAvailable, "Shard %s is not part of the server's shard space", explicit.Name)
}

// natTeardown removes the rule for every (allocation, shard) pair. Failures
// are recorded and ignored.
func (r *run) natTeardown(proxy cluster.ShardProxy, allocations []cluster.ShardAllocation, shards []cluster.Shard) []TargetResult {
	results := make([]TargetResult, len(allocations)*len(shards))

	g := new(errgroup.Group)
	g.SetLimit(r.o.cfg.Fanout)
	i := 0
	for _, a := range allocations {
		for _, s := range shards {
			i, a, s := i, a, s
			g.Go(func() error {
				res := TargetResult{ShardID: s.ID, Shard: s.Name, Port: a.Port}
				ip, err := r.o.deps.IPs.ResolveIP(r.ctx, s.Fqdn)
				if err == nil {
					res.IP = ip
					err = r.o.deps.Nat.RemoveNat(r.ctx, proxy, ip, a.Port)
				}
				if err != nil {
					res.Err = err
					res.Error = err.Error()
					metrics.RecordTeardownFailure("nat")
					r.log.V(logging.DEBUG).Info("ignoring nat teardown failure", "shard", s.Name, "port", a.Port, "error", err.Error())
				}
				results[i] = res
				return nil
			})
			i++
		}
	}
	_ = g.Wait()
	return results
}

// mountTeardown unmounts the volume on every shard. Failures are recorded
// and ignored.
func (r *run) mountTeardown(volume string, shards []cluster.Shard) []TargetResult {
	results := make([]TargetResult, len(shards))

	g := new(errgroup.Group)
	g.SetLimit(r.o.cfg.Fanout)
	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			res := TargetResult{ShardID: s.ID, Shard: s.Name}
			if err := r.o.deps.Mounts.Unmount(r.ctx, s, volume); err != nil {
				res.Err = err
				res.Error = err.Error()
				metrics.RecordTeardownFailure("mount")
				r.log.V(logging.DEBUG).Info("ignoring unmount failure", "shard", s.Name, "error", err.Error())
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
