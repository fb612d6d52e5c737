package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/dispatchproxy/dispatch-proxy/internal/dispatch"
	"github.com/dispatchproxy/dispatch-proxy/internal/egress"
	"github.com/dispatchproxy/dispatch-proxy/internal/relay"
)

// handshakeTimeout bounds the greeting/request phase (spec §4.1). It is
// set once as a single connection deadline when the connection is
// accepted and cleared after the reply is sent; it is not renewed per
// read, and it also covers the egress dial.
const handshakeTimeout = 10 * time.Second

// Counters is the subset of internal/metrics.Metrics the server needs;
// kept as an interface so this package never imports prometheus.
type Counters interface {
	IncConnectionsAccepted()
	IncBackendSelected(backend string)
	IncEgressError(replyCode byte)
	Active() relay.ActiveGauge
}

// Server is the SOCKS5 server state machine bound to one Dispatcher.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Logger     *log.Logger
	Metrics    Counters // optional, may be nil
}

// New builds a Server dispatching across d, logging via logger (must
// not be nil).
func New(d *dispatch.Dispatcher, logger *log.Logger) *Server {
	return &Server{Dispatcher: d, Logger: logger}
}

// Serve accepts connections from ln until it is closed or ctx is
// cancelled, spawning one goroutine per connection. Once the listener
// is closed or ctx is cancelled it waits for the in-flight connection
// goroutines to finish and returns nil (spec §7: "listener socket
// closed → shutdown"). Other accept errors are logged and retried
// after a short back-off, so Serve never returns a non-nil error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Logger.Printf("[socks5] accept error: %v", err)
			// Back off briefly rather than busy-looping on a
			// persistent condition like file-descriptor exhaustion
			// (spec §7).
			time.Sleep(50 * time.Millisecond)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(client net.Conn) {
	defer client.Close()

	if s.Metrics != nil {
		s.Metrics.IncConnectionsAccepted()
	}

	client.SetDeadline(time.Now().Add(handshakeTimeout))

	if err := s.negotiateMethod(client); err != nil {
		if !errors.Is(err, errNoAcceptableMethod) {
			s.Logger.Printf("[socks5] handshake: %v", err)
		}
		return
	}

	dst, err := s.readRequest(client)
	if err != nil {
		var replyOnly *replyAndClose
		if errors.As(err, &replyOnly) {
			sendReply(client, replyOnly.rep, nil, 0)
		} else {
			s.Logger.Printf("[socks5] request: %v", err)
		}
		return
	}

	backend := s.Dispatcher.Next()
	if s.Metrics != nil {
		s.Metrics.IncBackendSelected(backend.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), egress.DefaultDialTimeout)
	defer cancel()

	egressConn, localAddr, err := backend.Dial(ctx, dst)
	if err != nil {
		rep := mapEgressError(err)
		if s.Metrics != nil {
			s.Metrics.IncEgressError(rep)
		}
		sendReply(client, rep, nil, 0)
		s.Logger.Printf("[socks5] egress via %s failed: %v", backend, err)
		return
	}
	defer egressConn.Close()

	var bindIP net.IP
	var bindPort uint16
	if tcpAddr, ok := localAddr.(*net.TCPAddr); ok {
		bindIP = tcpAddr.IP
		bindPort = uint16(tcpAddr.Port)
	}
	sendReply(client, repSuccess, bindIP, bindPort)

	client.SetDeadline(time.Time{})

	var active relay.ActiveGauge
	if s.Metrics != nil {
		active = s.Metrics.Active()
	}
	relay.Run(client, egressConn, active)
}

var errNoAcceptableMethod = errors.New("no acceptable auth method")

// negotiateMethod implements states AwaitGreeting and SendMethod.
func (s *Server) negotiateMethod(client net.Conn) error {
	var hdr [2]byte
	if _, err := io.ReadFull(client, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != version {
		return protoErr("unsupported version in greeting")
	}

	nmethods := int(hdr[1])
	if nmethods == 0 {
		return protoErr("NMETHODS must be >= 1")
	}

	methods := make([]byte, nmethods)
	if _, err := io.ReadFull(client, methods); err != nil {
		return err
	}

	hasNoAuth := false
	for _, m := range methods {
		if m == methodNoAuth {
			hasNoAuth = true
			break
		}
	}

	if !hasNoAuth {
		client.Write([]byte{version, methodNoAcceptable})
		return errNoAcceptableMethod
	}

	if _, err := client.Write([]byte{version, methodNoAuth}); err != nil {
		return err
	}
	return nil
}

// replyAndClose signals that a specific negative reply must be sent
// before closing, rather than just dropping the connection.
type replyAndClose struct {
	rep byte
}

func (e *replyAndClose) Error() string { return "socks5: reply and close" }

// readRequest implements states AwaitRequest and ReadAddress.
func (s *Server) readRequest(client net.Conn) (dispatch.Destination, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(client, hdr[:]); err != nil {
		return dispatch.Destination{}, err
	}
	if hdr[0] != version || hdr[2] != 0x00 {
		return dispatch.Destination{}, protoErr("bad request header (VER/RSV)")
	}
	if hdr[1] != cmdConnect {
		return dispatch.Destination{}, &replyAndClose{rep: repCommandNotSupported}
	}

	var dst dispatch.Destination
	switch hdr[3] {
	case atypIPv4:
		var addr [4]byte
		if _, err := io.ReadFull(client, addr[:]); err != nil {
			return dispatch.Destination{}, err
		}
		dst.IP = append(net.IP{}, addr[:]...)

	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(client, l[:]); err != nil {
			return dispatch.Destination{}, err
		}
		if l[0] == 0 {
			return dispatch.Destination{}, protoErr("empty domain name")
		}
		domain := make([]byte, l[0])
		if _, err := io.ReadFull(client, domain); err != nil {
			return dispatch.Destination{}, err
		}
		dst.Host = string(domain)

	case atypIPv6:
		var addr [16]byte
		if _, err := io.ReadFull(client, addr[:]); err != nil {
			return dispatch.Destination{}, err
		}
		dst.IP = append(net.IP{}, addr[:]...)

	default:
		return dispatch.Destination{}, &replyAndClose{rep: repAddrTypeNotSupported}
	}

	var portBuf [2]byte
	if _, err := io.ReadFull(client, portBuf[:]); err != nil {
		return dispatch.Destination{}, err
	}
	dst.Port = binary.BigEndian.Uint16(portBuf[:])

	return dst, nil
}

// sendReply implements state SendReply.
func sendReply(conn net.Conn, rep byte, bindIP net.IP, bindPort uint16) {
	var buf [22]byte
	buf[0] = version
	buf[1] = rep
	buf[2] = 0x00

	n := 4
	switch {
	case bindIP == nil:
		buf[3] = atypIPv4
		n = 8
	case bindIP.To4() != nil:
		buf[3] = atypIPv4
		copy(buf[4:8], bindIP.To4())
		n = 8
	default:
		buf[3] = atypIPv6
		copy(buf[4:20], bindIP.To16())
		n = 20
	}
	binary.BigEndian.PutUint16(buf[n:n+2], bindPort)
	n += 2

	conn.Write(buf[:n])
}

// mapEgressError implements the egress-reason → SOCKS5 reply mapping
// in spec §4.1 step 6.
func mapEgressError(err error) byte {
	var ee *egress.Error
	if !errors.As(err, &ee) {
		return repGeneralFailure
	}

	switch ee.Reason {
	case egress.ReasonNetworkUnreachable:
		return repNetworkUnreachable
	case egress.ReasonHostUnreachable:
		return repHostUnreachable
	case egress.ReasonConnectionRefused:
		return repConnectionRefused
	case egress.ReasonTunnelRefused:
		return repGeneralFailure
	default:
		return repGeneralFailure
	}
}
