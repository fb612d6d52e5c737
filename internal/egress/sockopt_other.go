//go:build !linux

package egress

import "syscall"

// controlFor is a no-op on non-Linux platforms: source-IP binding via
// net.Dialer.LocalAddr is sufficient on macOS and Windows in the
// typical case (spec §9), and SO_BINDTODEVICE has no portable
// equivalent there.
func controlFor(ifName string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return nil
	}
}

const deviceBindingSupported = false

// probeBindToDevice is a no-op on non-Linux platforms: there is no
// SO_BINDTODEVICE to probe, and source-IP binding never required the
// capability in the first place (spec §9).
func probeBindToDevice(ifName string) error {
	return nil
}
