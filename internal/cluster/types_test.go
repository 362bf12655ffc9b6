package cluster

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardURLs(t *testing.T) {
	tests := []struct {
		name       string
		shard      Shard
		wantDaemon string
		wantAgent  string
	}{
		{
			name:       "plain http",
			shard:      Shard{Fqdn: "node1.example.com", HTTPPort: 8080, ShardPort: 9999},
			wantDaemon: "http://node1.example.com:8080/",
			wantAgent:  "http://node1.example.com:9999/",
		},
		{
			name:       "tls",
			shard:      Shard{Fqdn: "node2.example.com", HTTPPort: 443, ShardPort: 9443, SSL: true},
			wantDaemon: "https://node2.example.com:443/",
			wantAgent:  "https://node2.example.com:9443/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantDaemon, tt.shard.DaemonURL())
			assert.Equal(t, tt.wantAgent, tt.shard.AgentURL())
		})
	}
}

func TestShardWithDefaults(t *testing.T) {
	s := Shard{ID: 1, HTTPPort: 8443}.WithDefaults()

	assert.Equal(t, 8443, s.HTTPPort, "explicit port must be kept")
	assert.Equal(t, DefaultSFTPPort, s.SFTPPort)
	assert.Equal(t, DefaultShardPort, s.ShardPort)
}

func TestShardTokenNotSerialized(t *testing.T) {
	data, err := json.Marshal(Shard{ID: 1, Token: "secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	data, err = json.Marshal(ShardProxy{ID: 1, Key: "proxy-secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "proxy-secret")
}

func TestShardSpaceHasShard(t *testing.T) {
	space := ShardSpace{ID: 1, ShardIDs: []int{1, 3}}

	assert.True(t, space.HasShard(1))
	assert.True(t, space.HasShard(3))
	assert.False(t, space.HasShard(2))
}

func TestCreateServerRequestWireFormat(t *testing.T) {
	id := uuid.MustParse("6f1c5d0e-8f2a-4a57-9e63-2b1f0c7a9d11")
	data, err := json.Marshal(CreateServerRequest{UUID: id})
	require.NoError(t, err)

	assert.JSONEq(t, `{"uuid":"6f1c5d0e-8f2a-4a57-9e63-2b1f0c7a9d11","start_on_completion":false}`, string(data))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name         string
		page         int
		perPage      int
		wantData     []int
		wantLastPage int
	}{
		{name: "first page", page: 0, perPage: 2, wantData: []int{1, 2}, wantLastPage: 3},
		{name: "last partial page", page: 2, perPage: 2, wantData: []int{5}, wantLastPage: 3},
		{name: "page out of range", page: 3, perPage: 2, wantData: []int{}, wantLastPage: 3},
		{name: "everything on one page", page: 0, perPage: 10, wantData: []int{1, 2, 3, 4, 5}, wantLastPage: 1},
		{name: "negative page is clamped", page: -1, perPage: 5, wantData: []int{1, 2, 3, 4, 5}, wantLastPage: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Paginate(items, tt.page, tt.perPage)
			assert.Equal(t, tt.wantData, res.Data)
			assert.Equal(t, tt.wantLastPage, res.Meta.LastPage)
			assert.Equal(t, len(items), res.Meta.Total)
		})
	}

	t.Run("empty listing", func(t *testing.T) {
		res := Paginate([]int(nil), 0, 10)
		assert.Empty(t, res.Data)
		assert.NotNil(t, res.Data)
		assert.Equal(t, 1, res.Meta.LastPage)
	})
}
