package mount

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/remote"
)

type agentCall struct {
	Method string
	Auth   string
	Body   map[string]string
}

type fakeAgent struct {
	mu     sync.Mutex
	calls  []agentCall
	status int
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path == "/mount" {
		f.calls = append(f.calls, agentCall{r.Method, r.Header.Get("Authorization"), body})
	}
	w.WriteHeader(f.status)
}

func (f *fakeAgent) recorded() []agentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentCall(nil), f.calls...)
}

func shardFor(t *testing.T, h http.Handler) cluster.Shard {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return cluster.Shard{ID: 2, Name: "target", Fqdn: u.Hostname(), Token: "tok", ShardPort: port}
}

func TestMountUnmount(t *testing.T) {
	fake := &fakeAgent{status: http.StatusOK}
	shard := shardFor(t, fake)
	c := NewController(remote.NewClient(5*time.Second), logging.NewTestLogger())
	ctx := context.Background()

	require.NoError(t, c.Mount(ctx, shard, "home.example.com", "/var/lib/volumes/abc", "/var/lib/volumes/abc"))
	require.NoError(t, c.Unmount(ctx, shard, "/var/lib/volumes/abc"))

	calls := fake.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "Bearer tok", calls[0].Auth)
	assert.Equal(t, map[string]string{
		"server":     "home.example.com",
		"serverPath": "/var/lib/volumes/abc",
		"path":       "/var/lib/volumes/abc",
	}, calls[0].Body)
	assert.Equal(t, http.MethodDelete, calls[1].Method)
	assert.Equal(t, map[string]string{"path": "/var/lib/volumes/abc"}, calls[1].Body)
}

func TestMountFailure(t *testing.T) {
	shard := shardFor(t, &fakeAgent{status: http.StatusInternalServerError})
	c := NewController(remote.NewClient(5*time.Second), logging.NewTestLogger())

	err := c.Mount(context.Background(), shard, "h", "/a", "/a")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, errors.StatusCode(err))

	var re *errors.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, errors.KindAgent, re.Kind)
}
