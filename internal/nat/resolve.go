package nat

import (
	"context"
	"net"

	"github.com/dreamware/shardmesh/internal/errors"
)

// IPResolver turns a shard fqdn into the address used in forwarding rules.
type IPResolver interface {
	ResolveIP(ctx context.Context, host string) (string, error)
}

// DNSResolver resolves through the system resolver and returns the first
// IPv4 address, falling back to the first address of any family. Literal IPs
// are returned as is.
type DNSResolver struct {
	Resolver *net.Resolver
}

func (d DNSResolver) ResolveIP(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	r := d.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", host)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	if len(addrs) == 0 {
		return "", errors.Errorf("no address found for %s", host)
	}
	return addrs[0].IP.String(), nil
}

// StaticResolver maps hosts to fixed addresses. Unknown hosts resolve to
// themselves.
type StaticResolver map[string]string

func (s StaticResolver) ResolveIP(_ context.Context, host string) (string, error) {
	if ip, ok := s[host]; ok {
		return ip, nil
	}
	return host, nil
}
