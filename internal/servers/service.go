// Package servers implements the server operations issued to shard daemons.
// Operational calls follow the current shard, backups stay on the home
// shard.
package servers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/events"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/registry"
	"github.com/dreamware/shardmesh/internal/remote"
	"github.com/dreamware/shardmesh/internal/routing"
)

const (
	backupAdapter         = "wings"
	DefaultBackupTokenTTL = 15 * time.Minute
)

// HostProber reports shard agent liveness.
type HostProber interface {
	Probe(ctx context.Context, shard cluster.Shard) remote.Status
}

// Emitter publishes notifications.
type Emitter interface {
	Emit(ctx context.Context, topic string, payload any)
}

// Service issues server operations to the shard daemons.
type Service struct {
	router   *routing.Router
	registry *registry.Registry
	hosts    HostProber
	events   Emitter
	tokenTTL time.Duration
	log      logr.Logger
	now      func() time.Time
}

// NewService returns a service. A non-positive tokenTTL selects
// DefaultBackupTokenTTL.
func NewService(router *routing.Router, reg *registry.Registry, hosts HostProber, emitter Emitter, tokenTTL time.Duration, log logr.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultBackupTokenTTL
	}
	return &Service{
		router:   router,
		registry: reg,
		hosts:    hosts,
		events:   emitter,
		tokenTTL: tokenTTL,
		log:      log.WithName("servers"),
		now:      time.Now,
	}
}

func serverResource(server cluster.Server, suffix string) string {
	return "api/servers/" + server.UUID.String() + suffix
}

// Details fetches the power state and utilization from the current shard.
func (s *Service) Details(ctx context.Context, server cluster.Server) (cluster.ServerDetails, error) {
	var d cluster.ServerDetails
	err := s.router.Get(ctx, server, serverResource(server, ""), &d)
	return d, err
}

// SetPowerState sends a power signal to the current shard. Starting a
// server away from home goes through the migration orchestrator instead.
func (s *Service) SetPowerState(ctx context.Context, server cluster.Server, signal cluster.PowerSignal) error {
	s.log.V(logging.DEBUG).Info("power signal", "server", server.ID, "signal", signal)
	return s.router.Post(ctx, server, serverResource(server, "/power"), cluster.PowerRequest{Action: signal}, nil)
}

// Sync asks the current shard to reload the server configuration.
func (s *Service) Sync(ctx context.Context, server cluster.Server) error {
	return s.router.Post(ctx, server, serverResource(server, "/sync"), nil, nil)
}

// SyncDaemon registers an existing server on its current shard the way a
// creation would, without installing it. Installing servers are refused.
func (s *Service) SyncDaemon(ctx context.Context, server cluster.Server) error {
	fresh, err := s.registry.Server(server.ID)
	if err != nil {
		return err
	}
	if fresh.Installing {
		return errors.New(errors.ErrInstalling, "Unable to sync to a sharded daemon while installing")
	}
	return s.router.Post(ctx, server, "api/servers", cluster.CreateServerRequest{
		UUID:              server.UUID,
		StartOnCompletion: false,
	}, nil)
}

// CreateRequest describes a new server. ShardID 0 selects the first
// registered shard.
type CreateRequest struct {
	Name    string `json:"name"`
	CPU     int    `json:"cpu"`
	Memory  int64  `json:"memory"`
	Disk    int64  `json:"disk"`
	OwnerID int    `json:"owner_id"`
	ImageID int    `json:"image_id"`
	ShardID int    `json:"shard_id,omitempty"`
}

// Create stores a server homed on the chosen shard, claims the free
// allocations its image needs and asks the daemon to install it. Nothing is
// kept when the daemon refuses.
func (s *Service) Create(ctx context.Context, req CreateRequest) (cluster.Server, error) {
	image, err := s.registry.Image(req.ImageID)
	if err != nil {
		return cluster.Server{}, err
	}

	var shard cluster.Shard
	if req.ShardID != 0 {
		shard, err = s.registry.Shard(req.ShardID)
	} else {
		var shards []cluster.Shard
		shards, err = s.registry.Shards()
		if err == nil && len(shards) == 0 {
			err = errors.New(errors.ErrNoShardAvailable, "No shard available")
		}
		if err == nil {
			shard = shards[0]
		}
	}
	if err != nil {
		return cluster.Server{}, err
	}

	server, err := s.registry.PutServer(cluster.Server{
		UUID:       uuid.New(),
		Name:       req.Name,
		CPU:        req.CPU,
		Memory:     req.Memory,
		Disk:       req.Disk,
		OwnerID:    req.OwnerID,
		ImageID:    image.ID,
		ShardID:    shard.ID,
		Installing: true,
	})
	if err != nil {
		return cluster.Server{}, err
	}

	allocations, err := s.registry.ClaimAllocations(shard.ID, image.Allocations, server.ID)
	if err != nil {
		s.discard(server)
		return cluster.Server{}, err
	}
	if len(allocations) > 0 {
		server.MainAllocationID = allocations[0].ID
		if server, err = s.registry.PutServer(server); err != nil {
			s.discard(server)
			return cluster.Server{}, err
		}
	}

	err = s.router.PostHome(ctx, server, "api/servers", cluster.CreateServerRequest{
		UUID:              server.UUID,
		StartOnCompletion: false,
	}, nil)
	if err != nil {
		s.log.Error(err, "creating server on daemon", "server", server.ID, "shard", shard.ID)
		s.discard(server)
		return cluster.Server{}, errors.WrapCode(err, errors.ErrInternal, "Error creating server on the daemon")
	}
	return server, nil
}

func (s *Service) discard(server cluster.Server) {
	if err := s.registry.DeleteServer(server.ID); err != nil {
		s.log.Error(err, "discarding server", "server", server.ID)
	}
}

// Reinstall marks the server installing and asks the home shard to run the
// install script again.
func (s *Service) Reinstall(ctx context.Context, server cluster.Server) error {
	server.Installing = true
	if _, err := s.registry.PutServer(server); err != nil {
		return err
	}
	return s.router.PostHome(ctx, server, serverResource(server, "/reinstall"), nil, nil)
}

// CreateBackup records a pending backup and asks the home shard to take it.
func (s *Service) CreateBackup(ctx context.Context, server cluster.Server) (cluster.Backup, error) {
	now := s.now()
	backup := cluster.Backup{
		UUID:      uuid.New(),
		ServerID:  server.ID,
		Name:      "Created at " + now.Format("2006-01-02 15:04"),
		CreatedAt: now,
	}
	if err := s.registry.PutBackup(backup); err != nil {
		return cluster.Backup{}, err
	}

	err := s.router.PostHome(ctx, server, serverResource(server, "/backup"), cluster.CreateBackupRequest{
		Adapter: backupAdapter,
		UUID:    backup.UUID,
	}, nil)
	if err != nil {
		return cluster.Backup{}, err
	}
	return backup, nil
}

// Backups lists the backups of a server.
func (s *Service) Backups(server cluster.Server) ([]cluster.Backup, error) {
	return s.registry.Backups(server.ID)
}

// MarkBackupCreated flags a backup as finished, as reported by the daemon.
func (s *Service) MarkBackupCreated(ctx context.Context, backupID uuid.UUID) error {
	b, err := s.registry.Backup(backupID)
	if err != nil {
		return err
	}
	b.Created = true
	if err := s.registry.PutBackup(b); err != nil {
		return err
	}
	if server, err := s.registry.Server(b.ServerID); err == nil && s.events != nil {
		s.events.Emit(ctx, events.ServerTopic(server.UUID, "backupCompleted"), b)
	}
	return nil
}

// RestoreBackup restores a backup from the home shard.
func (s *Service) RestoreBackup(ctx context.Context, server cluster.Server, backup cluster.Backup) error {
	return s.router.PostHome(ctx, server, serverResource(server, "/backup/"+backup.UUID.String()+"/restore"),
		cluster.RestoreBackupRequest{Adapter: backupAdapter}, nil)
}

// DeleteBackup removes a backup from the home shard and the registry. A
// backup the daemon no longer knows is deleted anyway.
func (s *Service) DeleteBackup(ctx context.Context, server cluster.Server, backup cluster.Backup) error {
	err := s.router.DeleteHome(ctx, server, serverResource(server, "/backup/"+backup.UUID.String()), nil)
	if err != nil && !errors.IsStatus(err, http.StatusNotFound) {
		return err
	}
	if err := s.registry.DeleteBackup(backup.UUID); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Emit(ctx, events.ServerTopic(server.UUID, "backupDeleted"), backup)
	}
	return nil
}

// DownloadBackupURL returns a link to download a backup straight from the
// home shard. The token is signed with the home shard's secret.
func (s *Service) DownloadBackupURL(server cluster.Server, backup cluster.Backup) (string, error) {
	home, err := s.registry.HomeShard(server.ID)
	if err != nil {
		return "", err
	}

	now := s.now()
	tkn := jwt.New(jwt.SigningMethodHS256)
	claims := tkn.Claims.(jwt.MapClaims)
	claims["server_uuid"] = server.UUID.String()
	claims["backup_uuid"] = backup.UUID.String()
	claims["unique_id"] = uuid.NewString()
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Add(-5 * time.Minute).Unix()
	claims["exp"] = now.Add(s.tokenTTL).Unix()

	signed, err := tkn.SignedString([]byte(home.Token))
	if err != nil {
		return "", errors.Wrap(err, "signing backup token")
	}
	return fmt.Sprintf("%sdownload/backup?token=%s", home.DaemonURL(), signed), nil
}

// IsHostUp reports whether the agent of the server's home shard answers.
func (s *Service) IsHostUp(ctx context.Context, server cluster.Server) (bool, error) {
	home, err := s.registry.HomeShard(server.ID)
	if err != nil {
		return false, err
	}
	return s.hosts.Probe(ctx, home) == remote.StatusUp, nil
}
