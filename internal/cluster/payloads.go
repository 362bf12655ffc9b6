package cluster

import "github.com/google/uuid"

// Power state reported by a daemon.
const (
	StateOffline  = "offline"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

// PowerSignal is the action of a power request.
type PowerSignal string

const (
	PowerStart   PowerSignal = "start"
	PowerStop    PowerSignal = "stop"
	PowerRestart PowerSignal = "restart"
	PowerKill    PowerSignal = "kill"
)

// CreateServerRequest is the body of POST api/servers. Sending it for an
// already provisioned server re-registers it on the receiving daemon.
type CreateServerRequest struct {
	UUID              uuid.UUID `json:"uuid"`
	StartOnCompletion bool      `json:"start_on_completion"`
}

// PowerRequest is the body of POST api/servers/{uuid}/power.
type PowerRequest struct {
	Action PowerSignal `json:"action"`
}

// ServerDetails is returned by GET api/servers/{uuid}.
type ServerDetails struct {
	State       string      `json:"state"`
	IsSuspended bool        `json:"is_suspended"`
	Utilization Utilization `json:"utilization"`
}

type Utilization struct {
	MemoryBytes      int64   `json:"memory_bytes"`
	MemoryLimitBytes int64   `json:"memory_limit_bytes"`
	CPUAbsolute      float64 `json:"cpu_absolute"`
	DiskBytes        int64   `json:"disk_bytes"`
	Uptime           int64   `json:"uptime"`
	Network          struct {
		RxBytes int64 `json:"rx_bytes"`
		TxBytes int64 `json:"tx_bytes"`
	} `json:"network"`
}

// MountRequest is the body of POST mount on a shard agent: bind ServerPath
// of the remote host Server into Path.
type MountRequest struct {
	Server     string `json:"server"`
	ServerPath string `json:"serverPath"`
	Path       string `json:"path"`
}

// UnmountRequest is the body of DELETE mount.
type UnmountRequest struct {
	Path string `json:"path"`
}

type CPUMetrics struct {
	CPUModel string  `json:"cpuModel"`
	Cores    int     `json:"cores"`
	Usage    float64 `json:"cpuUsage"`
}

type MemoryMetrics struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Free      int64 `json:"free"`
	Available int64 `json:"available"`
}

type DiskMetrics struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Free      int64 `json:"free"`
	Available int64 `json:"available"`
}

type SystemMetrics struct {
	OsName   string `json:"osName"`
	Hostname string `json:"hostname"`
	Uptime   int64  `json:"uptime"`
}

type DockerMetrics struct {
	Containers []Container `json:"containers"`
}

type Container struct {
	Name       string  `json:"name"`
	Memory     int64   `json:"memory"`
	CPU        float64 `json:"cpu"`
	NetworkIn  int64   `json:"networkIn"`
	NetworkOut int64   `json:"networkOut"`
}

// CreateBackupRequest is the body of POST api/servers/{uuid}/backup.
type CreateBackupRequest struct {
	Adapter string    `json:"adapter"`
	UUID    uuid.UUID `json:"uuid"`
	Ignore  string    `json:"ignore"`
}

// RestoreBackupRequest is the body of POST api/servers/{uuid}/backup/{b}/restore.
type RestoreBackupRequest struct {
	Adapter  string `json:"adapter"`
	Truncate bool   `json:"truncate_directory"`
}

// RemoteServer is the server configuration handed to daemons through the
// remote API.
type RemoteServer struct {
	UUID     uuid.UUID      `json:"uuid"`
	Settings ServerSettings `json:"settings"`
}

type ServerSettings struct {
	UUID        uuid.UUID         `json:"uuid"`
	Suspended   bool              `json:"suspended"`
	Invocation  string            `json:"invocation"`
	Build       ServerBuild       `json:"build"`
	Container   ServerContainer   `json:"container"`
	Allocations ServerAllocations `json:"allocations"`
}

type ServerBuild struct {
	MemoryLimit int64 `json:"memory_limit"`
	Swap        int64 `json:"swap"`
	IoWeight    int   `json:"io_weight"`
	CPULimit    int   `json:"cpu_limit"`
	DiskSpace   int64 `json:"disk_space"`
}

type ServerContainer struct {
	Image string `json:"image"`
}

type ServerAllocations struct {
	Default  AllocationAddress `json:"default"`
	Mappings map[string][]int  `json:"mappings"`
}

type AllocationAddress struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// InstallScript is returned by GET api/remote/servers/{uuid}/install.
type InstallScript struct {
	ContainerImage string `json:"container_image"`
	Entrypoint     string `json:"entrypoint"`
	Script         string `json:"script"`
}

// PaginationResult wraps one page of a listing.
type PaginationResult[T any] struct {
	Data []T            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type PaginationMeta struct {
	CurrentPage int `json:"current_page"`
	From        int `json:"from"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	To          int `json:"to"`
	Total       int `json:"total"`
}

// Paginate slices items into pages of perPage and returns the zero based
// page. A page outside the range yields an empty Data slice.
func Paginate[T any](items []T, page, perPage int) PaginationResult[T] {
	if perPage <= 0 {
		perPage = 50
	}
	if page < 0 {
		page = 0
	}
	lastPage := (len(items) + perPage - 1) / perPage
	if lastPage == 0 {
		lastPage = 1
	}
	res := PaginationResult[T]{
		Data: []T{},
		Meta: PaginationMeta{
			CurrentPage: page,
			LastPage:    lastPage,
			PerPage:     perPage,
			Total:       len(items),
		},
	}
	from := page * perPage
	if from >= len(items) {
		return res
	}
	to := from + perPage
	if to > len(items) {
		to = len(items)
	}
	res.Data = append(res.Data, items[from:to]...)
	res.Meta.From = from + 1
	res.Meta.To = to
	return res
}
