package egress

import (
	"context"
	"net"
	"time"

	"github.com/dispatchproxy/dispatch-proxy/internal/dispatch"
)

// DefaultDialTimeout is the per-attempt timeout applied to each
// candidate address when connecting, per spec §4.3.1 step 5.
const DefaultDialTimeout = 10 * time.Second

// Direct is the source-address egress backend: it connects outbound
// using a fixed local IP (and, on Linux, a named interface).
type Direct struct {
	LocalIP     net.IP
	Iface       string // optional, Linux SO_BINDTODEVICE target
	weight      int
	resolver    *net.Resolver
	dialTimeout time.Duration
}

// NewDirect builds a Direct backend bound to localIP (and, optionally,
// iface on Linux) with the given schedule weight.
func NewDirect(localIP net.IP, iface string, weight int) *Direct {
	return &Direct{
		LocalIP:     localIP,
		Iface:       iface,
		weight:      weight,
		resolver:    net.DefaultResolver,
		dialTimeout: DefaultDialTimeout,
	}
}

func (d *Direct) Weight() int { return d.weight }

func (d *Direct) String() string {
	if d.Iface != "" {
		return d.LocalIP.String() + "%" + d.Iface
	}
	return d.LocalIP.String()
}

// ValidateCapability fails fast at startup when this backend names an
// interface for device binding but the process lacks the capability
// (CAP_NET_RAW) to use SO_BINDTODEVICE, per spec §6 exit code 1 and
// §9 "Auto mode and privileges". Auto-detected backends never set
// Iface, so this is only exercised for explicitly configured
// interfaces.
func (d *Direct) ValidateCapability() error {
	if d.Iface == "" {
		return nil
	}
	return probeBindToDevice(d.Iface)
}

// isIPv6 reports whether this backend's source address is IPv6, used
// to choose A vs AAAA preference when resolving domain destinations.
func (d *Direct) isIPv6() bool {
	return d.LocalIP.To4() == nil
}

// Dial resolves dst if necessary, then tries each candidate address in
// order with a per-attempt timeout until one connects or all fail.
func (d *Direct) Dial(ctx context.Context, dst dispatch.Destination) (net.Conn, net.Addr, error) {
	ips, err := d.candidateIPs(ctx, dst)
	if err != nil {
		return nil, nil, err
	}

	dialer := &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: d.LocalIP},
		Timeout:   d.dialTimeout,
		KeepAlive: 30 * time.Second,
		Control:   controlFor(d.Iface),
	}

	var lastErr *Error
	for _, ip := range ips {
		addr := &net.TCPAddr{IP: ip, Port: int(dst.Port)}
		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err == nil {
			return conn, conn.LocalAddr(), nil
		}
		lastErr = classifyDialErr("connect", err)
	}
	if lastErr == nil {
		lastErr = newError(ReasonHostUnreachable, "connect", net.UnknownNetworkError("no candidate addresses"))
	}
	return nil, nil, lastErr
}

// candidateIPs returns dst's address as a one-element slice if it is
// already a literal, or the resolved A/AAAA records (family-ordered to
// match this backend's own address family first) if dst is a domain.
func (d *Direct) candidateIPs(ctx context.Context, dst dispatch.Destination) ([]net.IP, *Error) {
	if dst.IP != nil {
		return []net.IP{dst.IP}, nil
	}

	addrs, err := d.resolver.LookupIPAddr(ctx, dst.Host)
	if err != nil {
		return nil, classifyDialErr("resolve", err)
	}
	if len(addrs) == 0 {
		return nil, newError(ReasonHostUnreachable, "resolve", net.UnknownNetworkError("no addresses"))
	}

	preferV6 := d.isIPv6()
	var preferred, rest []net.IP
	for _, a := range addrs {
		isV6 := a.IP.To4() == nil
		if isV6 == preferV6 {
			preferred = append(preferred, a.IP)
		} else {
			rest = append(rest, a.IP)
		}
	}
	return append(preferred, rest...), nil
}
