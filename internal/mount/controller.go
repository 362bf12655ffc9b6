// Package mount asks shard agents to bind a workload volume from its home
// shard, and to release it again.
package mount

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/remote"
)

// Controller issues mount and unmount calls. Neither call is assumed to be
// idempotent on the agent side.
type Controller struct {
	client *remote.Client
	log    logr.Logger
}

// NewController returns a controller calling shard agents through client.
func NewController(client *remote.Client, log logr.Logger) *Controller {
	return &Controller{client: client, log: log.WithName("mount")}
}

// Mount binds remotePath exported by remoteHost to localPath on shard.
func (c *Controller) Mount(ctx context.Context, shard cluster.Shard, remoteHost, remotePath, localPath string) error {
	c.log.V(logging.DEBUG).Info("mounting volume", "shard", shard.Name, "from", remoteHost, "path", localPath)
	body := cluster.MountRequest{
		Server:     remoteHost,
		ServerPath: remotePath,
		Path:       localPath,
	}
	return c.client.Call(ctx, remote.Agent(shard), http.MethodPost, "mount", body, nil)
}

// Unmount releases the bind at path on shard.
func (c *Controller) Unmount(ctx context.Context, shard cluster.Shard, path string) error {
	c.log.V(logging.DEBUG).Info("unmounting volume", "shard", shard.Name, "path", path)
	return c.client.Call(ctx, remote.Agent(shard), http.MethodDelete, "mount", cluster.UnmountRequest{Path: path}, nil)
}
