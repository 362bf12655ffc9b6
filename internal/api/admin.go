package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/health"
	"github.com/dreamware/shardmesh/internal/remote"
	"github.com/dreamware/shardmesh/internal/servers"
)

func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pathID(r *http.Request, key string) int {
	// the route pattern only admits digits
	id, _ := strconv.Atoi(mux.Vars(r)[key])
	return id
}

func (h *Handler) server(r *http.Request) (cluster.Server, error) {
	return h.deps.Registry.Server(pathID(r, "id"))
}

// decodeBody decodes an optional JSON body.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

func (h *Handler) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req servers.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}
	server, err := h.deps.Servers.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, server)
}

func (h *Handler) handleGetServer(w http.ResponseWriter, r *http.Request) {
	server, err := h.server(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	details, err := h.deps.Servers.Details(r.Context(), server)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Server  cluster.Server        `json:"server"`
		Details cluster.ServerDetails `json:"details"`
	}{server, details})
}

type migrateRequest struct {
	ShardID int `json:"shard_id,omitempty"`
}

func (h *Handler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}
	server, err := h.server(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var target *cluster.Shard
	if req.ShardID != 0 {
		shard, err := h.deps.Registry.Shard(req.ShardID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		target = &shard
	}

	// The relocation runs to completion even if the operator disconnects.
	result, err := h.deps.Migrator.StartServer(context.WithoutCancel(r.Context()), server, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type shardInfo struct {
	Home     cluster.Shard `json:"home"`
	Current  cluster.Shard `json:"current"`
	Override bool          `json:"override"`
	Locked   bool          `json:"locked"`
}

func (h *Handler) handleServerShard(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	home, err := h.deps.Resolver.HomeShard(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	current, err := h.deps.Resolver.CurrentShard(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_, override := h.deps.Resolver.Override(id)
	writeJSON(w, http.StatusOK, shardInfo{
		Home:     home,
		Current:  current,
		Override: override,
		Locked:   h.deps.Locks.IsLocked(id),
	})
}

func (h *Handler) handlePower(w http.ResponseWriter, r *http.Request) {
	var req cluster.PowerRequest
	if err := decodeBody(r, &req); err != nil || req.Action == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "action required"})
		return
	}
	switch req.Action {
	case cluster.PowerStart, cluster.PowerStop, cluster.PowerRestart, cluster.PowerKill:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown action " + string(req.Action)})
		return
	}
	h.serverCall(w, r, func(s cluster.Server) error {
		return h.deps.Servers.SetPowerState(r.Context(), s, req.Action)
	})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.serverCall(w, r, func(s cluster.Server) error {
		return h.deps.Servers.Sync(r.Context(), s)
	})
}

func (h *Handler) handleReinstall(w http.ResponseWriter, r *http.Request) {
	h.serverCall(w, r, func(s cluster.Server) error {
		return h.deps.Servers.Reinstall(r.Context(), s)
	})
}

// serverCall runs fn on the server named in the path and answers 204.
func (h *Handler) serverCall(w http.ResponseWriter, r *http.Request, fn func(cluster.Server) error) {
	server, err := h.server(r)
	if err == nil {
		err = fn(server)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListBackups(w http.ResponseWriter, r *http.Request) {
	server, err := h.server(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	backups, err := h.deps.Servers.Backups(server)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if backups == nil {
		backups = []cluster.Backup{}
	}
	writeJSON(w, http.StatusOK, backups)
}

func (h *Handler) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	server, err := h.server(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	backup, err := h.deps.Servers.CreateBackup(r.Context(), server)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, backup)
}

// backup resolves the server and one of its backups from the path.
func (h *Handler) backup(r *http.Request) (cluster.Server, cluster.Backup, error) {
	server, err := h.server(r)
	if err != nil {
		return server, cluster.Backup{}, err
	}
	id, err := uuid.Parse(mux.Vars(r)["backup"])
	if err != nil {
		return server, cluster.Backup{}, errors.New(errors.ErrNotFound, "backup not found")
	}
	b, err := h.deps.Registry.Backup(id)
	if err != nil {
		return server, b, err
	}
	if b.ServerID != server.ID {
		return server, b, errors.New(errors.ErrNotFound, "backup not found")
	}
	return server, b, nil
}

func (h *Handler) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	server, b, err := h.backup(r)
	if err == nil {
		err = h.deps.Servers.RestoreBackup(r.Context(), server, b)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	server, b, err := h.backup(r)
	if err == nil {
		err = h.deps.Servers.DeleteBackup(r.Context(), server, b)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	server, b, err := h.backup(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	link, err := h.deps.Servers.DownloadBackupURL(server, b)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (h *Handler) handleFlushNat(w http.ResponseWriter, r *http.Request) {
	proxy, err := h.deps.Registry.Proxy(pathID(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.deps.Nat.FlushNat(r.Context(), proxy); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleShardHealth(w http.ResponseWriter, r *http.Request) {
	shards, err := h.deps.Registry.Shards()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var known map[int]health.ShardHealth
	if h.deps.Health != nil {
		known = h.deps.Health.All()
	}
	out := make([]health.ShardHealth, 0, len(shards))
	for _, s := range shards {
		rec, ok := known[s.ID]
		if !ok {
			rec = health.ShardHealth{ShardID: s.ID, Name: s.Name, Status: remote.StatusUnknown}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	writeJSON(w, http.StatusOK, out)
}

type shardMetrics struct {
	CPU    cluster.CPUMetrics    `json:"cpu"`
	Memory cluster.MemoryMetrics `json:"memory"`
	Disk   cluster.DiskMetrics   `json:"disk"`
	System cluster.SystemMetrics `json:"system"`
	Docker cluster.DockerMetrics `json:"docker"`
}

func (h *Handler) handleShardMetrics(w http.ResponseWriter, r *http.Request) {
	shard, err := h.deps.Registry.Shard(pathID(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var m shardMetrics
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) { m.CPU, err = h.deps.Agents.CPU(ctx, shard); return })
	g.Go(func() (err error) { m.Memory, err = h.deps.Agents.Memory(ctx, shard); return })
	g.Go(func() (err error) { m.Disk, err = h.deps.Agents.Disk(ctx, shard); return })
	g.Go(func() (err error) { m.System, err = h.deps.Agents.System(ctx, shard); return })
	g.Go(func() (err error) { m.Docker, err = h.deps.Agents.Docker(ctx, shard); return })
	if err := g.Wait(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type routingTable struct {
	Locked    []int       `json:"locked"`
	Overrides map[int]int `json:"overrides"`
}

func (h *Handler) handleRouting(w http.ResponseWriter, r *http.Request) {
	out := routingTable{Locked: h.deps.Locks.Locked(), Overrides: map[int]int{}}
	if out.Locked == nil {
		out.Locked = []int{}
	}
	for id, s := range h.deps.Resolver.Overrides() {
		out.Overrides[id] = s.ID
	}
	writeJSON(w, http.StatusOK, out)
}
