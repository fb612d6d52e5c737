// Package dispatch implements the weighted round-robin scheduler that
// picks an egress backend for each inbound SOCKS5 connection.
package dispatch

import (
	"context"
	"net"
	"strconv"
)

// Destination is a SOCKS5 CONNECT target: either a resolved IP literal
// or an unresolved domain name, plus a port.
type Destination struct {
	IP   net.IP // nil if Host is a domain name
	Host string // set when IP is nil
	Port uint16
}

// String renders the destination the way net.Dialer expects it.
func (d Destination) String() string {
	host := d.Host
	if d.IP != nil {
		host = d.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(d.Port)))
}

// Backend is one egress path: a way of producing a connected outbound
// TCP stream for a requested destination. Direct and Tunnel are the
// two implementations (package internal/egress).
type Backend interface {
	// Dial connects to dst and returns the established stream along
	// with its local address (used to populate the SOCKS5 reply's
	// BND.ADDR/BND.PORT). The returned error, if any, is an
	// *egress.Error carrying enough detail to map to a SOCKS5 reply
	// code.
	Dial(ctx context.Context, dst Destination) (net.Conn, net.Addr, error)

	// Weight is this backend's share of the expanded-slot schedule.
	Weight() int

	// String identifies the backend for logs and metrics labels.
	String() string
}
