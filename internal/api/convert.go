package api

import (
	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/errors"
)

const defaultIOWeight = 500

// remoteServer renders a server the way daemons expect it.
func (h *Handler) remoteServer(s cluster.Server) (cluster.RemoteServer, error) {
	image, err := h.deps.Registry.Image(s.ImageID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return cluster.RemoteServer{}, err
	}
	allocations, err := h.deps.Registry.Allocations(s.ID)
	if err != nil {
		return cluster.RemoteServer{}, err
	}
	return toRemoteServer(s, image, allocations), nil
}

func toRemoteServer(s cluster.Server, image cluster.Image, allocations []cluster.ShardAllocation) cluster.RemoteServer {
	mappings := make(map[string][]int)
	var main cluster.AllocationAddress
	for _, a := range allocations {
		mappings[a.IP] = append(mappings[a.IP], a.Port)
		if a.ID == s.MainAllocationID || (main.Port == 0 && s.MainAllocationID == 0) {
			main = cluster.AllocationAddress{IP: a.IP, Port: a.Port}
		}
	}

	return cluster.RemoteServer{
		UUID: s.UUID,
		Settings: cluster.ServerSettings{
			UUID:       s.UUID,
			Suspended:  s.Suspended,
			Invocation: image.Startup,
			Build: cluster.ServerBuild{
				MemoryLimit: s.Memory,
				IoWeight:    defaultIOWeight,
				CPULimit:    s.CPU,
				DiskSpace:   s.Disk,
			},
			Container: cluster.ServerContainer{Image: image.DockerImage},
			Allocations: cluster.ServerAllocations{
				Default:  main,
				Mappings: mappings,
			},
		},
	}
}
