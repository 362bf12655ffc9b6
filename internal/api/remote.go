package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/events"
	"github.com/dreamware/shardmesh/internal/logging"
)

type shardKey struct{}

// shardAuth authenticates a daemon by its compound token
// "Bearer {tokenId}.{token}". An unknown token id is answered with 404 and
// a wrong secret with 401.
func (h *Handler) shardAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, secret, ok := strings.Cut(raw, ".")
		if !ok || id == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "malformed token"})
			return
		}

		shard, err := h.deps.Registry.ShardByTokenID(id)
		if errors.Is(err, errors.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown token id"})
			return
		} else if err != nil {
			h.writeError(w, r, err)
			return
		}
		if subtle.ConstantTimeCompare([]byte(secret), []byte(shard.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			return
		}

		ctx := context.WithValue(r.Context(), shardKey{}, shard)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callingShard(r *http.Request) cluster.Shard {
	s, _ := r.Context().Value(shardKey{}).(cluster.Shard)
	return s
}

func (h *Handler) serverByUUID(r *http.Request) (cluster.Server, error) {
	id, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		return cluster.Server{}, errors.New(errors.ErrNotFound, "server not found")
	}
	return h.deps.Registry.ServerByUUID(id)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Newf(errors.ErrUncoded, "invalid %s %q", key, v)
	}
	return n, nil
}

func (h *Handler) handleRemoteListServers(w http.ResponseWriter, r *http.Request) {
	shard := callingShard(r)
	page, err := queryInt(r, "page", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	perPage, err := queryInt(r, "per_page", 50)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	homed, err := h.deps.Registry.ServersOnShard(shard.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	paged := cluster.Paginate(homed, page, perPage)
	out := cluster.PaginationResult[cluster.RemoteServer]{
		Data: make([]cluster.RemoteServer, 0, len(paged.Data)),
		Meta: paged.Meta,
	}
	for _, s := range paged.Data {
		rs, err := h.remoteServer(s)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out.Data = append(out.Data, rs)
	}

	h.emit(r, events.ShardTopic(shard.ID, "serverList"), map[string]int{"page": page})
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRemoteReset(w http.ResponseWriter, r *http.Request) {
	shard := callingShard(r)
	h.emit(r, events.ShardTopic(shard.ID, events.StateReset), shard)

	homed, err := h.deps.Registry.ServersOnShard(shard.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for _, s := range homed {
		if !s.Installing {
			continue
		}
		s.Installing = false
		if _, err := h.deps.Registry.PutServer(s); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.log.Info("shard state reset", "shard", shard.Name, "servers", len(homed))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleRemoteGetServer(w http.ResponseWriter, r *http.Request) {
	server, err := h.serverByUUID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rs, err := h.remoteServer(server)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.emit(r, events.ShardTopic(callingShard(r).ID, "serverFetch"), server.UUID)
	writeJSON(w, http.StatusOK, rs)
}

// handleRemoteGetInstall returns the real install script only while the
// server is installing. A daemon receiving a relocated server runs "exit 0".
func (h *Handler) handleRemoteGetInstall(w http.ResponseWriter, r *http.Request) {
	server, err := h.serverByUUID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	image, err := h.deps.Registry.Image(server.ImageID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		h.writeError(w, r, err)
		return
	}

	script := cluster.InstallScript{
		ContainerImage: image.InstallDockerImage,
		Entrypoint:     image.InstallEntrypoint,
		Script:         "exit 0",
	}
	if server.Installing {
		h.log.V(logging.DEBUG).Info("real install requested", "server", server.ID)
		script.Script = image.InstallScript
	}
	h.emit(r, events.ShardTopic(callingShard(r).ID, "serverInstallFetch"), server.UUID)
	writeJSON(w, http.StatusOK, script)
}

// handleRemoteInstallComplete is called by a daemon after an install run.
// The run either finished a real install or confirmed a relocation.
func (h *Handler) handleRemoteInstallComplete(w http.ResponseWriter, r *http.Request) {
	server, err := h.serverByUUID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.deps.Locks.Unlock(r.Context(), server)

	if server.Installing {
		server.Installing = false
		if _, err := h.deps.Registry.PutServer(server); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.emit(r, events.ShardTopic(callingShard(r).ID, "serverInstallComplete"), server.UUID)
		h.emit(r, events.ServerTopic(server.UUID, events.InstallComplete), server.ID)
	} else {
		h.emit(r, events.ServerTopic(server.UUID, events.Reconnect), server.ID)
	}
	w.WriteHeader(http.StatusOK)
}

type backupStatusRequest struct {
	Successful bool `json:"successful"`
}

func (h *Handler) handleRemoteBackupStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "backup not found"})
		return
	}
	var req backupStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}
	if !req.Successful {
		h.log.Info("backup failed on shard", "backup", id.String(), "shard", callingShard(r).Name)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.deps.Servers.MarkBackupCreated(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) emit(r *http.Request, topic string, payload any) {
	if h.deps.Events != nil {
		h.deps.Events.Emit(r.Context(), topic, payload)
	}
}
