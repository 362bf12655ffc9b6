package nat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/remote"
)

type call struct {
	method, path, auth string
}

// fakeProxy records calls and answers every request with status.
type fakeProxy struct {
	mu     sync.Mutex
	calls  []call
	status int
}

func (f *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, call{r.Method, r.URL.Path, r.Header.Get("Authorization")})
	status := f.status
	f.mu.Unlock()
	w.WriteHeader(status)
}

func (f *fakeProxy) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeProxy) setStatus(status int) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

func newController(t *testing.T, status int) (*Controller, *fakeProxy, cluster.ShardProxy) {
	t.Helper()
	fake := &fakeProxy{status: status}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	proxy := cluster.ShardProxy{ID: 1, Name: "p1", Fqdn: u.Hostname(), Key: "secret"}
	c := NewController(remote.NewClient(5*time.Second), port, logging.NewTestLogger())
	return c, fake, proxy
}

func TestAddRemoveFlush(t *testing.T) {
	c, fake, proxy := newController(t, http.StatusOK)
	ctx := context.Background()

	require.NoError(t, c.AddNat(ctx, proxy, "10.0.0.2", 25565))
	require.NoError(t, c.RemoveNat(ctx, proxy, "10.0.0.2", 25565))
	require.NoError(t, c.FlushNat(ctx, proxy))

	assert.Equal(t, []call{
		{http.MethodPost, "/firewall/nat/10.0.0.2/25565", "secret"},
		{http.MethodDelete, "/firewall/nat/10.0.0.2/25565", "secret"},
		{http.MethodDelete, "/firewall/nat", "secret"},
	}, fake.recorded())
}

func TestAddNatFailureCarriesStatus(t *testing.T) {
	c, _, proxy := newController(t, http.StatusInternalServerError)

	err := c.AddNat(context.Background(), proxy, "10.0.0.2", 25565)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, errors.StatusCode(err))
}

func TestRemoveNatTwice(t *testing.T) {
	c, fake, proxy := newController(t, http.StatusOK)
	ctx := context.Background()

	assert.NoError(t, c.RemoveNat(ctx, proxy, "10.0.0.2", 1))
	fake.setStatus(http.StatusNotFound)
	err := c.RemoveNat(ctx, proxy, "10.0.0.2", 1)
	assert.True(t, errors.IsStatus(err, http.StatusNotFound))
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   remote.Status
	}{
		{"not found means up", http.StatusNotFound, remote.StatusUp},
		{"server error means down", http.StatusInternalServerError, remote.StatusDown},
		{"unauthorized means down", http.StatusUnauthorized, remote.StatusDown},
		{"unexpected success is unknown", http.StatusOK, remote.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, proxy := newController(t, tt.status)
			assert.Equal(t, tt.want, c.Probe(context.Background(), proxy))
		})
	}
}

func TestProbeUnreachable(t *testing.T) {
	c := NewController(remote.NewClient(time.Second), 1, logging.NewTestLogger())
	proxy := cluster.ShardProxy{Name: "gone", Fqdn: "127.0.0.1"}
	assert.Equal(t, remote.StatusDown, c.Probe(context.Background(), proxy))
}

func TestProbeCancelled(t *testing.T) {
	c, _, proxy := newController(t, http.StatusNotFound)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, remote.StatusUnknown, c.Probe(ctx, proxy))
}

func TestDefaultPort(t *testing.T) {
	c := NewController(remote.NewClient(time.Second), 0, logging.NewTestLogger())
	assert.Equal(t, cluster.DefaultProxyPort, c.Port())
}

func TestResolvers(t *testing.T) {
	ctx := context.Background()

	ip, err := DNSResolver{}.ResolveIP(ctx, "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)

	ip, err = DNSResolver{}.ResolveIP(ctx, "localhost")
	require.NoError(t, err)
	assert.NotEmpty(t, ip)

	static := StaticResolver{"shard-a.local": "10.0.0.1"}
	ip, _ = static.ResolveIP(ctx, "shard-a.local")
	assert.Equal(t, "10.0.0.1", ip)
	ip, _ = static.ResolveIP(ctx, "10.0.0.9")
	assert.Equal(t, "10.0.0.9", ip)
}
