package config

import (
	"context"
	"net"
	"time"
)

// probeTimeout is the connect timeout for the auto-detect
// connectivity probe (spec §6).
const probeTimeout = 3 * time.Second

const (
	probeTargetV4 = "1.1.1.1:53"
	probeTargetV6 = "[2606:4700:4700::1111]:53"
)

// AutoDetect enumerates non-loopback, non-link-local local interface
// addresses and
// probes each one's outbound connectivity, adopting every address
// that succeeds as a Direct backend spec with weight 1 (spec §6
// "Connectivity probe (auto mode)"). The probe-target-selection
// algorithm beyond "try every candidate" is intentionally unspecified
// by spec §1 and left trivial here: every such address is tried, in
// the order net.Interfaces() returns it, and all successes
// are kept (not just the first), since combining uplinks is the
// point of auto mode.
func AutoDetect(ctx context.Context) ([]BackendSpec, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var specs []BackendSpec
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
				continue
			}
			if probe(ctx, ipNet.IP) {
				specs = append(specs, BackendSpec{LocalIP: ipNet.IP, Weight: 1, SkipDeviceBinding: true})
			}
		}
	}
	return specs, nil
}

// probe attempts a TCP connect from src to the well-known probe target
// for its address family, per spec §6.
func probe(ctx context.Context, src net.IP) bool {
	target := probeTargetV4
	if src.To4() == nil {
		target = probeTargetV6
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: src}}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
