// Package routing sends daemon requests for a server to the shard that
// should handle them. Operational calls follow the current shard, which may
// be an override target during a relocation; data-ownership calls such as
// backups pin the home shard.
package routing

import (
	"context"
	"net/http"
	"time"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/remote"
)

// DefaultTimeout bounds a routed call. Creating and reinstalling a server
// can take minutes on the daemon side.
const DefaultTimeout = 15 * time.Minute

// Route selects which shard of a server a request targets.
type Route int

const (
	RouteCurrent Route = iota
	RouteHome
)

func (r Route) String() string {
	if r == RouteHome {
		return "home"
	}
	return "current"
}

// ShardResolver is the part of resolver.Resolver used for routing.
type ShardResolver interface {
	CurrentShard(serverID int) (cluster.Shard, error)
	HomeShard(serverID int) (cluster.Shard, error)
}

// Router sends daemon requests for a server to its current or home shard.
type Router struct {
	resolver ShardResolver
	client   *remote.Client
}

// NewRouter returns a router. A nil client selects one with DefaultTimeout.
func NewRouter(resolver ShardResolver, client *remote.Client) *Router {
	if client == nil {
		client = remote.NewClient(DefaultTimeout)
	}
	return &Router{resolver: resolver, client: client}
}

// Shard resolves the shard a route points at.
func (r *Router) Shard(server cluster.Server, route Route) (cluster.Shard, error) {
	if route == RouteHome {
		return r.resolver.HomeShard(server.ID)
	}
	return r.resolver.CurrentShard(server.ID)
}

// BuildRequest resolves the route and builds an authenticated request to
// that shard's daemon.
func (r *Router) BuildRequest(ctx context.Context, server cluster.Server, method, resource string, body any, route Route) (*remote.Request, error) {
	shard, err := r.Shard(server, route)
	if err != nil {
		return nil, err
	}
	return remote.NewRequest(ctx, remote.Daemon(shard), method, resource, body)
}

func (r *Router) call(ctx context.Context, server cluster.Server, method, resource string, body, out any, route Route) error {
	req, err := r.BuildRequest(ctx, server, method, resource, body, route)
	if err != nil {
		return err
	}
	return r.client.Do(req, out)
}

func (r *Router) callRaw(ctx context.Context, server cluster.Server, method, resource string, body any, route Route) ([]byte, error) {
	req, err := r.BuildRequest(ctx, server, method, resource, body, route)
	if err != nil {
		return nil, err
	}
	return r.client.DoRaw(req)
}

func (r *Router) Get(ctx context.Context, server cluster.Server, resource string, out any) error {
	return r.call(ctx, server, http.MethodGet, resource, nil, out, RouteCurrent)
}

func (r *Router) GetHome(ctx context.Context, server cluster.Server, resource string, out any) error {
	return r.call(ctx, server, http.MethodGet, resource, nil, out, RouteHome)
}

func (r *Router) GetRaw(ctx context.Context, server cluster.Server, resource string) ([]byte, error) {
	return r.callRaw(ctx, server, http.MethodGet, resource, nil, RouteCurrent)
}

func (r *Router) GetRawHome(ctx context.Context, server cluster.Server, resource string) ([]byte, error) {
	return r.callRaw(ctx, server, http.MethodGet, resource, nil, RouteHome)
}

func (r *Router) Post(ctx context.Context, server cluster.Server, resource string, body, out any) error {
	return r.call(ctx, server, http.MethodPost, resource, body, out, RouteCurrent)
}

func (r *Router) PostHome(ctx context.Context, server cluster.Server, resource string, body, out any) error {
	return r.call(ctx, server, http.MethodPost, resource, body, out, RouteHome)
}

func (r *Router) PostRaw(ctx context.Context, server cluster.Server, resource string, body any) ([]byte, error) {
	return r.callRaw(ctx, server, http.MethodPost, resource, body, RouteCurrent)
}

func (r *Router) PostRawHome(ctx context.Context, server cluster.Server, resource string, body any) ([]byte, error) {
	return r.callRaw(ctx, server, http.MethodPost, resource, body, RouteHome)
}

func (r *Router) Put(ctx context.Context, server cluster.Server, resource string, body, out any) error {
	return r.call(ctx, server, http.MethodPut, resource, body, out, RouteCurrent)
}

func (r *Router) PutHome(ctx context.Context, server cluster.Server, resource string, body, out any) error {
	return r.call(ctx, server, http.MethodPut, resource, body, out, RouteHome)
}

func (r *Router) Delete(ctx context.Context, server cluster.Server, resource string, body any) error {
	return r.call(ctx, server, http.MethodDelete, resource, body, nil, RouteCurrent)
}

func (r *Router) DeleteHome(ctx context.Context, server cluster.Server, resource string, body any) error {
	return r.call(ctx, server, http.MethodDelete, resource, body, nil, RouteHome)
}
