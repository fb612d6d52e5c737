//go:build linux

package egress

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlFor returns a net.Dialer.Control callback that tunes the
// raw socket the way Ealireza-SuperProxy's setSocketOptions does
// (SO_REUSEADDR, TCP_NODELAY, keepalive), and additionally binds the
// socket to ifName via SO_BINDTODEVICE when ifName is non-empty.
// SO_BINDTODEVICE requires CAP_NET_RAW; its failure surfaces as a
// permission error from Dial, per spec §4.3.1 step 3.
func controlFor(ifName string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sysErr error
		err := c.Control(func(fd uintptr) {
			if ifName != "" {
				if e := unix.BindToDevice(int(fd), ifName); e != nil {
					sysErr = e
					return
				}
			}

			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
				sysErr = e
				return
			}
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
				sysErr = e
				return
			}
		})
		if err != nil {
			return err
		}
		return sysErr
	}
}

// deviceBindingSupported reports whether this platform can apply
// SO_BINDTODEVICE. Nothing in the module reads it; startup validation
// goes through probeBindToDevice, which is a no-op on other platforms.
const deviceBindingSupported = true

// probeBindToDevice opens a throwaway socket and attempts
// SO_BINDTODEVICE against ifName, surfacing a missing-capability error
// at startup (spec §6 exit code 1: "missing capability for device
// binding on Linux") rather than on the first client connection.
func probeBindToDevice(ifName string) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	return unix.BindToDevice(fd, ifName)
}
