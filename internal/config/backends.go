package config

import (
	"fmt"
	"net"

	"github.com/dispatchproxy/dispatch-proxy/internal/dispatch"
	"github.com/dispatchproxy/dispatch-proxy/internal/egress"
)

// BuildBackends converts parsed specs into dispatch.Backend values,
// in the same order, resolving each Direct spec's owning interface
// name (for SO_BINDTODEVICE on Linux) by matching LocalIP against the
// host's interface addresses.
func BuildBackends(specs []BackendSpec) ([]dispatch.Backend, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("config: no backends configured")
	}

	backends := make([]dispatch.Backend, 0, len(specs))
	for i, spec := range specs {
		if spec.Tunnel {
			backends = append(backends, egress.NewTunnel(tunnelAddr{host: spec.Host, port: spec.Port}, spec.Weight))
			continue
		}

		if spec.SkipDeviceBinding {
			backends = append(backends, egress.NewDirect(spec.LocalIP, "", spec.Weight))
			continue
		}

		iface, err := ifaceForIP(spec.LocalIP)
		if err != nil {
			return nil, fmt.Errorf("config: backend %d (%s): %w", i, spec.LocalIP, err)
		}
		d := egress.NewDirect(spec.LocalIP, iface, spec.Weight)
		if err := d.ValidateCapability(); err != nil {
			return nil, fmt.Errorf("config: backend %d (%s@%s): device binding unavailable: %w", i, spec.LocalIP, iface, err)
		}
		backends = append(backends, d)
	}
	return backends, nil
}

// tunnelAddr is a minimal net.Addr for an upstream SOCKS5 server that
// may be named by domain (not just IP), which net.TCPAddr can't hold.
type tunnelAddr struct {
	host string
	port uint16
}

func (a tunnelAddr) Network() string { return "tcp" }
func (a tunnelAddr) String() string {
	return net.JoinHostPort(a.host, fmt.Sprintf("%d", a.port))
}

// ifaceForIP returns the name of the local interface that owns ip, or
// "" if none does (e.g. the IP is not yet assigned — acceptable;
// device binding is then simply skipped, per spec §4.3.1 step 3
// being conditional on "an interface name is associated with the
// source IP").
func ifaceForIP(ip net.IP) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("enumerate interfaces: %w", err)
	}

	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.Equal(ip) {
				return ifi.Name, nil
			}
		}
	}
	return "", nil
}
