// Package nat drives the firewall API of shard proxies. Every call is a thin
// synchronous request; no rule state is kept locally.
package nat

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/remote"
)

// Controller adds and removes forwarding rules on a shard proxy.
type Controller struct {
	client *remote.Client
	port   int
	log    logr.Logger
}

// NewController returns a controller talking to proxies on port. A zero port
// selects cluster.DefaultProxyPort.
func NewController(client *remote.Client, port int, log logr.Logger) *Controller {
	if port == 0 {
		port = cluster.DefaultProxyPort
	}
	return &Controller{client: client, port: port, log: log.WithName("nat")}
}

// Port returns the proxy API port.
func (c *Controller) Port() int {
	return c.port
}

func ruleResource(ip string, port int) string {
	return fmt.Sprintf("firewall/nat/%s/%d", ip, port)
}

// AddNat forwards the public allocation port to ip.
func (c *Controller) AddNat(ctx context.Context, proxy cluster.ShardProxy, ip string, port int) error {
	c.log.V(logging.DEBUG).Info("adding nat rule", "proxy", proxy.Name, "ip", ip, "port", port)
	return c.client.Call(ctx, remote.Proxy(proxy, c.port), http.MethodPost, ruleResource(ip, port), nil, nil)
}

// RemoveNat removes the forwarding rule for ip and port.
func (c *Controller) RemoveNat(ctx context.Context, proxy cluster.ShardProxy, ip string, port int) error {
	c.log.V(logging.DEBUG).Info("removing nat rule", "proxy", proxy.Name, "ip", ip, "port", port)
	return c.client.Call(ctx, remote.Proxy(proxy, c.port), http.MethodDelete, ruleResource(ip, port), nil, nil)
}

// FlushNat drops every rule on the proxy. It is meant for full proxy resets.
func (c *Controller) FlushNat(ctx context.Context, proxy cluster.ShardProxy) error {
	c.log.Info("flushing nat rules", "proxy", proxy.Name)
	return c.client.Call(ctx, remote.Proxy(proxy, c.port), http.MethodDelete, "firewall/nat", nil, nil)
}

// Probe checks proxy reachability with a GET on the API root. The proxy has
// no route there, so a 404 is the healthy answer.
func (c *Controller) Probe(ctx context.Context, proxy cluster.ShardProxy) remote.Status {
	err := c.client.Call(ctx, remote.Proxy(proxy, c.port), http.MethodGet, "", nil, nil)
	switch {
	case errors.IsStatus(err, http.StatusNotFound):
		return remote.StatusUp
	case ctx.Err() == context.Canceled:
		return remote.StatusUnknown
	case err != nil:
		c.log.V(logging.DEBUG).Info("proxy probe failed", "proxy", proxy.Name, "error", err.Error())
		return remote.StatusDown
	default:
		return remote.StatusUnknown
	}
}
