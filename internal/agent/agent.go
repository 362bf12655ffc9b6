// Package agent reads metrics from shard agents and derives their liveness.
package agent

import (
	"context"
	"net/http"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/remote"
)

// Client reads a shard agent over the remote client.
type Client struct {
	client *remote.Client
}

// NewClient returns an agent client issuing its calls through client.
func NewClient(client *remote.Client) *Client {
	return &Client{client: client}
}

func get[T any](ctx context.Context, c *Client, shard cluster.Shard, resource string) (T, error) {
	var out T
	err := c.client.Call(ctx, remote.Agent(shard), http.MethodGet, resource, nil, &out)
	return out, err
}

func (c *Client) CPU(ctx context.Context, shard cluster.Shard) (cluster.CPUMetrics, error) {
	return get[cluster.CPUMetrics](ctx, c, shard, "metrics/cpu")
}

func (c *Client) Memory(ctx context.Context, shard cluster.Shard) (cluster.MemoryMetrics, error) {
	return get[cluster.MemoryMetrics](ctx, c, shard, "metrics/memory")
}

func (c *Client) Disk(ctx context.Context, shard cluster.Shard) (cluster.DiskMetrics, error) {
	return get[cluster.DiskMetrics](ctx, c, shard, "metrics/disk")
}

func (c *Client) System(ctx context.Context, shard cluster.Shard) (cluster.SystemMetrics, error) {
	return get[cluster.SystemMetrics](ctx, c, shard, "metrics/system")
}

func (c *Client) Docker(ctx context.Context, shard cluster.Shard) (cluster.DockerMetrics, error) {
	return get[cluster.DockerMetrics](ctx, c, shard, "metrics/docker")
}

// Probe reports the shard Up when its system metrics can be read. A
// cancelled context yields Unknown rather than Down. An expired deadline is
// a hung agent and counts as Down.
func (c *Client) Probe(ctx context.Context, shard cluster.Shard) remote.Status {
	if _, err := c.System(ctx, shard); err != nil {
		if ctx.Err() == context.Canceled {
			return remote.StatusUnknown
		}
		return remote.StatusDown
	}
	return remote.StatusUp
}

// IsHostUp is Probe collapsed to a bool.
func (c *Client) IsHostUp(ctx context.Context, shard cluster.Shard) bool {
	return c.Probe(ctx, shard) == remote.StatusUp
}
