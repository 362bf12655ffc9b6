// Package api serves the HTTP surfaces of shardmesh: the remote API called
// back by shard daemons and the operator API driving relocations.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/shardmesh/internal/agent"
	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/health"
	"github.com/dreamware/shardmesh/internal/lock"
	"github.com/dreamware/shardmesh/internal/migration"
	"github.com/dreamware/shardmesh/internal/registry"
	"github.com/dreamware/shardmesh/internal/resolver"
	"github.com/dreamware/shardmesh/internal/servers"
)

// Migrator starts relocations.
type Migrator interface {
	StartServer(ctx context.Context, server cluster.Server, target *cluster.Shard) (*migration.Result, error)
}

// NatFlusher resets a proxy.
type NatFlusher interface {
	FlushNat(ctx context.Context, proxy cluster.ShardProxy) error
}

// Emitter publishes notifications.
type Emitter interface {
	Emit(ctx context.Context, topic string, payload any)
}

// Deps are the components the handlers call into.
type Deps struct {
	Registry *registry.Registry
	Resolver *resolver.Resolver
	Locks    *lock.Manager
	Migrator Migrator
	Servers  *servers.Service
	Nat      NatFlusher
	Agents   *agent.Client
	Health   *health.Monitor
	Events   Emitter
	Gatherer prometheus.Gatherer
}

// Handler holds the routers.
type Handler struct {
	deps       Deps
	adminToken string
	log        logr.Logger
	router     *mux.Router
}

// NewHandler builds the router. Requests to the operator API must carry
// "Bearer <adminToken>"; an empty adminToken locks the operator API.
func NewHandler(deps Deps, adminToken string, log logr.Logger) *Handler {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{deps: deps, adminToken: adminToken, log: log.WithName("api")}
	h.router = h.newRouter()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) newRouter() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/health", h.handleHealth).Methods("GET")

	remote := router.PathPrefix("/api/remote").Subrouter()
	remote.Use(h.shardAuth)
	remote.HandleFunc("/servers", h.handleRemoteListServers).Methods("GET").Name("RemoteListServers")
	remote.HandleFunc("/servers/reset", h.handleRemoteReset).Methods("POST").Name("RemoteReset")
	remote.HandleFunc("/servers/{uuid}", h.handleRemoteGetServer).Methods("GET").Name("RemoteGetServer")
	remote.HandleFunc("/servers/{uuid}/install", h.handleRemoteGetInstall).Methods("GET").Name("RemoteGetInstall")
	remote.HandleFunc("/servers/{uuid}/install", h.handleRemoteInstallComplete).Methods("POST").Name("RemoteInstallComplete")
	remote.HandleFunc("/backups/{uuid}", h.handleRemoteBackupStatus).Methods("POST").Name("RemoteBackupStatus")

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(h.adminAuth)
	admin.HandleFunc("/servers", h.handleCreateServer).Methods("POST").Name("CreateServer")
	admin.HandleFunc("/servers/{id:[0-9]+}", h.handleGetServer).Methods("GET").Name("GetServer")
	admin.HandleFunc("/servers/{id:[0-9]+}/migrate", h.handleMigrate).Methods("POST").Name("Migrate")
	admin.HandleFunc("/servers/{id:[0-9]+}/shard", h.handleServerShard).Methods("GET").Name("ServerShard")
	admin.HandleFunc("/servers/{id:[0-9]+}/power", h.handlePower).Methods("POST").Name("Power")
	admin.HandleFunc("/servers/{id:[0-9]+}/sync", h.handleSync).Methods("POST").Name("Sync")
	admin.HandleFunc("/servers/{id:[0-9]+}/reinstall", h.handleReinstall).Methods("POST").Name("Reinstall")
	admin.HandleFunc("/servers/{id:[0-9]+}/backups", h.handleListBackups).Methods("GET").Name("ListBackups")
	admin.HandleFunc("/servers/{id:[0-9]+}/backups", h.handleCreateBackup).Methods("POST").Name("CreateBackup")
	admin.HandleFunc("/servers/{id:[0-9]+}/backups/{backup}/restore", h.handleRestoreBackup).Methods("POST").Name("RestoreBackup")
	admin.HandleFunc("/servers/{id:[0-9]+}/backups/{backup}/download", h.handleDownloadBackup).Methods("GET").Name("DownloadBackup")
	admin.HandleFunc("/servers/{id:[0-9]+}/backups/{backup}", h.handleDeleteBackup).Methods("DELETE").Name("DeleteBackup")
	admin.HandleFunc("/proxies/{id:[0-9]+}/nat/flush", h.handleFlushNat).Methods("POST").Name("FlushNat")
	admin.HandleFunc("/shards/health", h.handleShardHealth).Methods("GET").Name("ShardHealth")
	admin.HandleFunc("/shards/{id:[0-9]+}/metrics", h.handleShardMetrics).Methods("GET").Name("ShardMetrics")
	admin.HandleFunc("/routing", h.handleRouting).Methods("GET").Name("Routing")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	return router
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
		"locked": len(h.deps.Locks.Locked()),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusOf maps an error to the HTTP status returned to callers.
func statusOf(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrAlreadyLocked, errors.ErrNotOffline, errors.ErrInstalling:
		return http.StatusConflict
	case errors.ErrNotFound:
		return http.StatusNotFound
	}
	switch {
	case errors.IsDisplay(err):
		return http.StatusBadRequest
	case errors.StatusCode(err) != 0:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Code: string(errors.CodeOf(err))}
	if errors.IsDisplay(err) || status == http.StatusNotFound {
		resp.Error = errors.Message(err)
	} else {
		resp.Error = err.Error()
		h.log.Error(err, "request failed", "method", r.Method, "path", r.URL.Path, "status", status)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
