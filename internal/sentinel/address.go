package sentinel

import (
	"net"
	"strings"
	"time"
)

// ResolveAddress validates the port and resolves host to the address the
// engine will dial. Name lookup failures surface as ErrUnresolvable, and
// out-of-range ports as ErrInvalidPort, per §4.1.
func ResolveAddress(host string, port int) (Address, error) {
	if port < 1 || port > 65535 {
		return Address{}, ErrInvalidPort
	}
	if ip := net.ParseIP(host); ip != nil {
		return Address{Host: ip.String(), Port: port}, nil
	}
	ips, err := net.LookupHost(host)
	if err != nil || len(ips) == 0 {
		return Address{}, ErrUnresolvable
	}
	return Address{Host: ips[0], Port: port}, nil
}

// derivedName synthesises the name REPLICA/PEER instances take from their
// address: host:port, with an IPv6 host bracketed.
func derivedName(addr Address) string {
	return addr.String()
}

// addrKey is the "ip:port" dedup key used for the peer address index,
// independent of the display name.
func addrKey(addr Address) string {
	return strings.ToLower(addr.String())
}

// newChildInstance creates a REPLICA or PEER record seeded from addr. It
// does not insert it into any parent map; callers do that under the
// engine lock and apply the Duplicate check themselves.
func newChildInstance(role Role, addr Address) *Instance {
	return &Instance{
		Role:              role,
		Name:              derivedName(addr),
		Addr:              addr,
		RoleReported:      role,
		RoleReportedSince: time.Time{},
		Flags:             roleFlag(role) | FlagDisconnected,
	}
}

func roleFlag(r Role) Flag {
	switch r {
	case RolePrimary:
		return FlagPrimary
	case RoleReplica:
		return FlagReplica
	case RolePeer:
		return FlagPeer
	}
	return 0
}
