package egress

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dispatchproxy/dispatch-proxy/internal/dispatch"
)

// SOCKS5 wire constants shared with the server half in
// internal/socks5; duplicated here (rather than imported) because the
// client and server handshakes are genuinely distinct protocols that
// happen to share a wire format, and internal/socks5 imports
// internal/egress, so importing it back would be a cycle.
const (
	socks5Version = 0x05
	authNone      = 0x00

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// Tunnel is the nested-SOCKS5 egress backend: it dials an upstream
// SOCKS5 server and performs a client-side handshake asking it to
// CONNECT to the real destination. Domain names are forwarded
// un-resolved (spec §4.3.2) so the upstream resolves them in its own
// network view.
type Tunnel struct {
	Upstream    net.Addr
	weight      int
	dialTimeout time.Duration
}

// NewTunnel builds a Tunnel backend pointed at the given upstream
// SOCKS5 server address with the given schedule weight.
func NewTunnel(upstream net.Addr, weight int) *Tunnel {
	return &Tunnel{Upstream: upstream, weight: weight, dialTimeout: DefaultDialTimeout}
}

func (t *Tunnel) Weight() int { return t.weight }

func (t *Tunnel) String() string { return "tunnel:" + t.Upstream.String() }

// TunnelRefusedError is returned (wrapped in an *Error with
// ReasonTunnelRefused) when the upstream SOCKS5 server rejects the
// CONNECT request.
type TunnelRefusedError struct {
	Rep byte
}

func (e *TunnelRefusedError) Error() string {
	return fmt.Sprintf("tunnel: upstream refused with REP=0x%02x", e.Rep)
}

// Dial connects to the upstream and performs the client-side SOCKS5
// handshake described in spec §4.3.2.
func (t *Tunnel) Dial(ctx context.Context, dst dispatch.Destination) (net.Conn, net.Addr, error) {
	d := &net.Dialer{Timeout: t.dialTimeout, Control: controlFor("")}
	conn, err := d.DialContext(ctx, "tcp", t.Upstream.String())
	if err != nil {
		return nil, nil, classifyDialErr("connect", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(t.dialTimeout))
	}

	if err := t.handshake(conn, dst); err != nil {
		conn.Close()
		return nil, nil, err
	}

	conn.SetDeadline(time.Time{})
	return conn, conn.LocalAddr(), nil
}

func (t *Tunnel) handshake(conn net.Conn, dst dispatch.Destination) *Error {
	// Greeting: offer no-auth only.
	if _, err := conn.Write([]byte{socks5Version, 0x01, authNone}); err != nil {
		return classifyDialErr("tunnel-greeting", err)
	}

	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return classifyDialErr("tunnel-greeting", err)
	}
	if resp[0] != socks5Version || resp[1] != authNone {
		return newError(ReasonTunnelRefused, "tunnel-greeting", &TunnelRefusedError{Rep: resp[1]})
	}

	req, err := encodeRequest(dst)
	if err != nil {
		return newError(ReasonGeneral, "tunnel-encode", err)
	}
	if _, err := conn.Write(req); err != nil {
		return classifyDialErr("tunnel-request", err)
	}

	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return classifyDialErr("tunnel-reply", err)
	}
	if hdr[0] != socks5Version {
		return newError(ReasonTunnelRefused, "tunnel-reply", &TunnelRefusedError{Rep: hdr[1]})
	}
	if hdr[1] != 0x00 {
		return newError(ReasonTunnelRefused, "tunnel-reply", &TunnelRefusedError{Rep: hdr[1]})
	}

	// Drain BND.ADDR + BND.PORT per ATYP; we discard it (spec step 4).
	var addrLen int
	switch hdr[3] {
	case atypIPv4:
		addrLen = 4
	case atypIPv6:
		addrLen = 16
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return classifyDialErr("tunnel-reply", err)
		}
		addrLen = int(l[0])
	default:
		return newError(ReasonTunnelRefused, "tunnel-reply", fmt.Errorf("unknown BND.ATYP 0x%02x", hdr[3]))
	}

	drain := make([]byte, addrLen+2) // + BND.PORT
	if _, err := io.ReadFull(conn, drain); err != nil {
		return classifyDialErr("tunnel-reply", err)
	}

	return nil
}

// encodeRequest builds the SOCKS5 CONNECT request for dst. IP literals
// are sent as ATYP 0x01/0x04; domain names are sent as ATYP 0x03 with
// a length prefix and are never resolved locally.
func encodeRequest(dst dispatch.Destination) ([]byte, error) {
	var buf []byte
	buf = append(buf, socks5Version, cmdConnect, 0x00)

	switch {
	case dst.IP != nil && dst.IP.To4() != nil:
		buf = append(buf, atypIPv4)
		buf = append(buf, dst.IP.To4()...)
	case dst.IP != nil:
		buf = append(buf, atypIPv6)
		buf = append(buf, dst.IP.To16()...)
	default:
		if len(dst.Host) == 0 || len(dst.Host) > 255 {
			return nil, fmt.Errorf("invalid domain name length %d", len(dst.Host))
		}
		buf = append(buf, atypDomain, byte(len(dst.Host)))
		buf = append(buf, dst.Host...)
	}

	var port [2]byte
	binary.BigEndian.PutUint16(port[:], dst.Port)
	buf = append(buf, port[:]...)
	return buf, nil
}
