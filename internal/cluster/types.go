package cluster

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Default ports used when a shard is registered without explicit values.
const (
	DefaultHTTPPort  = 8080
	DefaultSFTPPort  = 2022
	DefaultShardPort = 9999
	DefaultProxyPort = 9999
)

// Shard is a compute node running workloads through its local daemon. The
// daemon API listens on HTTPPort, the shard agent (mounts, metrics) on
// ShardPort.
type Shard struct {
	ID        int    `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Fqdn      string `json:"fqdn" yaml:"fqdn"`
	TokenID   string `json:"token_id" yaml:"token_id"`
	Token     string `json:"-" yaml:"token"`
	HTTPPort  int    `json:"http_port" yaml:"http_port"`
	SFTPPort  int    `json:"sftp_port" yaml:"sftp_port"`
	ShardPort int    `json:"shard_port" yaml:"shard_port"`
	SSL       bool   `json:"ssl" yaml:"ssl"`
}

// Scheme returns the URL scheme selected by the shard's TLS flag.
func (s Shard) Scheme() string {
	if s.SSL {
		return "https"
	}
	return "http"
}

// DaemonURL is the base URL of the workload daemon, with a trailing slash.
func (s Shard) DaemonURL() string {
	return fmt.Sprintf("%s://%s:%d/", s.Scheme(), s.Fqdn, s.HTTPPort)
}

// AgentURL is the base URL of the shard agent, with a trailing slash.
func (s Shard) AgentURL() string {
	return fmt.Sprintf("%s://%s:%d/", s.Scheme(), s.Fqdn, s.ShardPort)
}

// WithDefaults fills unset ports.
func (s Shard) WithDefaults() Shard {
	if s.HTTPPort == 0 {
		s.HTTPPort = DefaultHTTPPort
	}
	if s.SFTPPort == 0 {
		s.SFTPPort = DefaultSFTPPort
	}
	if s.ShardPort == 0 {
		s.ShardPort = DefaultShardPort
	}
	return s
}

// ShardSpace groups shards behind one proxy. ProxyID is 0 when no proxy is
// configured, which blocks migrations inside the space.
type ShardSpace struct {
	ID       int    `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	ProxyID  int    `json:"proxy_id,omitempty" yaml:"proxy_id"`
	ShardIDs []int  `json:"shard_ids" yaml:"shard_ids"`
}

// HasShard reports whether the shard is a member of the space.
func (s ShardSpace) HasShard(shardID int) bool {
	return slices.Contains(s.ShardIDs, shardID)
}

// ShardProxy is the NAT/firewall endpoint of a shard space.
type ShardProxy struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Fqdn string `json:"fqdn" yaml:"fqdn"`
	Key  string `json:"-" yaml:"key"`
}

// URL is the base URL of the proxy API on the given port.
func (p ShardProxy) URL(port int) string {
	return fmt.Sprintf("http://%s:%d/", p.Fqdn, port)
}

// ShardAllocation is a reserved port on a shard. ServerID is 0 while the
// allocation is free.
type ShardAllocation struct {
	ID       int    `json:"id" yaml:"id"`
	ShardID  int    `json:"shard_id" yaml:"shard_id"`
	IP       string `json:"ip" yaml:"ip"`
	Port     int    `json:"port" yaml:"port"`
	ServerID int    `json:"server_id,omitempty" yaml:"server_id"`
}

// Server is a workload. ShardID is the durable home shard and never changes
// during a relocation.
type Server struct {
	ID               int       `json:"id" yaml:"id"`
	UUID             uuid.UUID `json:"uuid" yaml:"uuid"`
	Name             string    `json:"name" yaml:"name"`
	CPU              int       `json:"cpu" yaml:"cpu"`
	Memory           int64     `json:"memory" yaml:"memory"`
	Disk             int64     `json:"disk" yaml:"disk"`
	OwnerID          int       `json:"owner_id" yaml:"owner_id"`
	ImageID          int       `json:"image_id" yaml:"image_id"`
	ShardID          int       `json:"shard_id" yaml:"shard_id"`
	MainAllocationID int       `json:"main_allocation_id" yaml:"main_allocation_id"`
	Installing       bool      `json:"installing" yaml:"installing"`
	Suspended        bool      `json:"suspended" yaml:"suspended"`
}

// Image carries the install instructions handed to a daemon.
type Image struct {
	ID                 int    `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	DockerImage        string `json:"docker_image" yaml:"docker_image"`
	InstallDockerImage string `json:"install_docker_image" yaml:"install_docker_image"`
	InstallEntrypoint  string `json:"install_entrypoint" yaml:"install_entrypoint"`
	InstallScript      string `json:"install_script" yaml:"install_script"`
	Startup            string `json:"startup" yaml:"startup"`
	Allocations        int    `json:"allocations" yaml:"allocations"`
}

// Backup is a backup stored on the home shard of its server.
type Backup struct {
	UUID      uuid.UUID `json:"uuid"`
	ServerID  int       `json:"server_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Created   bool      `json:"created"`
}
