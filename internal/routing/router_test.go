package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/registry"
	"github.com/dreamware/shardmesh/internal/remote"
	"github.com/dreamware/shardmesh/internal/resolver"
)

type hit struct {
	shard, method, path, auth string
}

type recorder struct {
	mu   sync.Mutex
	hits []hit
}

func (r *recorder) daemon(t *testing.T, name, token string) cluster.Shard {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.hits = append(r.hits, hit{name, req.Method, req.URL.Path, req.Header.Get("Authorization")})
		r.mu.Unlock()
		_ = json.NewEncoder(w).Encode(cluster.ServerDetails{State: cluster.StateOffline})
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return cluster.Shard{Name: name, Fqdn: u.Hostname(), HTTPPort: port, Token: token}
}

func (r *recorder) recorded() []hit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hit(nil), r.hits...)
}

func TestRouting(t *testing.T) {
	rec := &recorder{}
	home := rec.daemon(t, "home", "home-token")
	home.ID = 1
	target := rec.daemon(t, "target", "target-token")
	target.ID = 2

	reg := registry.NewMemory()
	require.NoError(t, reg.PutShard(home))
	require.NoError(t, reg.PutShard(target))
	server, err := reg.PutServer(cluster.Server{ShardID: 1, UUID: uuid.New()})
	require.NoError(t, err)

	res := resolver.New(reg, nil)
	router := NewRouter(res, remote.NewClient(5*time.Second))
	ctx := context.Background()
	resource := "api/servers/" + server.UUID.String()

	var details cluster.ServerDetails
	require.NoError(t, router.Get(ctx, server, resource, &details))
	assert.Equal(t, cluster.StateOffline, details.State)

	res.SetOverride(server.ID, target)
	require.NoError(t, router.Post(ctx, server, resource+"/power", cluster.PowerRequest{Action: cluster.PowerStart}, nil))
	require.NoError(t, router.PostHome(ctx, server, resource+"/backup", nil, nil))
	_, err = router.GetRaw(ctx, server, resource)
	require.NoError(t, err)
	_, err = router.GetRawHome(ctx, server, resource)
	require.NoError(t, err)
	require.NoError(t, router.DeleteHome(ctx, server, resource+"/backup/x", nil))
	require.NoError(t, router.Put(ctx, server, resource, nil, nil))

	assert.Equal(t, []hit{
		{"home", http.MethodGet, "/" + resource, "Bearer home-token"},
		{"target", http.MethodPost, "/" + resource + "/power", "Bearer target-token"},
		{"home", http.MethodPost, "/" + resource + "/backup", "Bearer home-token"},
		{"target", http.MethodGet, "/" + resource, "Bearer target-token"},
		{"home", http.MethodGet, "/" + resource, "Bearer home-token"},
		{"home", http.MethodDelete, "/" + resource + "/backup/x", "Bearer home-token"},
		{"target", http.MethodPut, "/" + resource, "Bearer target-token"},
	}, rec.recorded())
}

func TestBuildRequest(t *testing.T) {
	reg := registry.NewMemory()
	require.NoError(t, reg.PutShard(cluster.Shard{ID: 1, Fqdn: "home.example.com", HTTPPort: 8443, SSL: true, Token: "t"}))
	server, err := reg.PutServer(cluster.Server{ShardID: 1})
	require.NoError(t, err)

	router := NewRouter(resolver.New(reg, nil), nil)
	req, err := router.BuildRequest(context.Background(), server, http.MethodGet, "/api/servers", nil, RouteHome)
	require.NoError(t, err)
	assert.Equal(t, "https://home.example.com:8443/api/servers", req.URL.String())
	assert.Equal(t, "Bearer t", req.Header.Get("Authorization"))

	_, err = router.BuildRequest(context.Background(), cluster.Server{ID: 99}, http.MethodGet, "x", nil, RouteCurrent)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRouteString(t *testing.T) {
	assert.Equal(t, "current", RouteCurrent.String())
	assert.Equal(t, "home", RouteHome.String())
}
