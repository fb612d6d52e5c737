package socks5

import (
	"context"
	"encoding/binary"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchproxy/dispatch-proxy/internal/dispatch"
	"github.com/dispatchproxy/dispatch-proxy/internal/egress"
)

// stubBackend lets tests control exactly what Dial returns, per
// spec §8 property 5 ("assert by mock egress that delays
// indefinitely") and scenario S2/S4/S6.
type stubBackend struct {
	weight int
	conn   net.Conn
	local  net.Addr
	err    error
	delay  chan struct{} // if non-nil, Dial blocks until closed
}

func (s *stubBackend) Dial(ctx context.Context, dst dispatch.Destination) (net.Conn, net.Addr, error) {
	if s.delay != nil {
		select {
		case <-s.delay:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.conn, s.local, nil
}
func (s *stubBackend) Weight() int    { return s.weight }
func (s *stubBackend) String() string { return "stub" }

func newTestServer(t *testing.T, backend dispatch.Backend) (*Server, net.Listener) {
	t.Helper()
	d, err := dispatch.New([]dispatch.Backend{backend})
	require.NoError(t, err)

	logger := log.New(io.Discard, "", 0)
	srv := New(d, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)

	return srv, ln
}

func dialClient(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// S2: greeting offering no-auth + GSSAPI, CONNECT to 127.0.0.1:80,
// stub egress bound to 1.2.3.4:55555.
func TestServer_S2_SuccessfulConnect(t *testing.T) {
	egressClient, egressServer := net.Pipe()
	defer egressServer.Close()
	defer egressClient.Close()

	backend := &stubBackend{
		weight: 1,
		conn:   egressServer,
		local:  &net.TCPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 55555},
	}
	_, ln := newTestServer(t, backend)

	client := dialClient(t, ln)
	defer client.Close()

	_, err := client.Write([]byte{0x05, 0x02, 0x00, 0x02})
	require.NoError(t, err)

	var method [2]byte
	_, err = io.ReadFull(client, method[:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00}, method[:])

	_, err = client.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	require.NoError(t, err)

	var reply [10]byte
	_, err = io.ReadFull(client, reply[:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x01, 0x01, 0x02, 0x03, 0x04, 0xD9, 0x03}, reply[:])
}

// S3: wrong version byte in greeting → server closes without reply.
func TestServer_S3_WrongVersionCloses(t *testing.T) {
	backend := &stubBackend{weight: 1}
	_, ln := newTestServer(t, backend)

	client := dialClient(t, ln)
	defer client.Close()

	_, err := client.Write([]byte{0x04, 0x01, 0x00})
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := client.Read(buf)
	assert.True(t, n == 0 || err != nil, "expected no reply bytes and/or read error, got n=%d err=%v", n, err)
}

// S4: egress fails with connection refused → REP 0x05.
func TestServer_S4_ConnectionRefused(t *testing.T) {
	backend := &stubBackend{weight: 1, err: &egress.Error{Reason: egress.ReasonConnectionRefused}}
	_, ln := newTestServer(t, backend)

	client := dialClient(t, ln)
	defer client.Close()

	require.NoError(t, doGreeting(t, client))

	_, err := client.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	require.NoError(t, err)

	var reply [10]byte
	_, err = io.ReadFull(client, reply[:])
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x05, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, reply[:])
}

// Property 5: no success reply is ever sent while egress Dial is
// still pending.
func TestServer_NoReplyBeforeConnectEstablished(t *testing.T) {
	delay := make(chan struct{})
	_, egressServer := net.Pipe()
	defer egressServer.Close()
	backend := &stubBackend{weight: 1, delay: delay, conn: egressServer, local: &net.TCPAddr{}}
	_, ln := newTestServer(t, backend)

	client := dialClient(t, ln)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))

	require.NoError(t, doGreeting(t, client))
	_, err := client.Write([]byte{0x05, 0x01, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.Error(t, err, "expected a timeout: no reply should have arrived yet")

	close(delay)
}

// S6 (IPv6 path): egress local addr is IPv6 -> reply ATYP=4.
func TestServer_S6_IPv6Reply(t *testing.T) {
	egressClient, egressServer := net.Pipe()
	defer egressServer.Close()
	defer egressClient.Close()

	localIP := net.ParseIP("fe80::1234")
	backend := &stubBackend{
		weight: 1,
		conn:   egressServer,
		local:  &net.TCPAddr{IP: localIP, Port: 9000},
	}
	_, ln := newTestServer(t, backend)

	client := dialClient(t, ln)
	defer client.Close()
	require.NoError(t, doGreeting(t, client))

	req := []byte{0x05, 0x01, 0x00, 0x04}
	req = append(req, net.ParseIP("2001:db8::1").To16()...)
	req = append(req, 0x00, 0x50)
	_, err := client.Write(req)
	require.NoError(t, err)

	var hdr [4]byte
	_, err = io.ReadFull(client, hdr[:])
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), hdr[1])
	assert.Equal(t, byte(0x04), hdr[3])

	var addr [16]byte
	_, err = io.ReadFull(client, addr[:])
	require.NoError(t, err)
	assert.True(t, net.IP(addr[:]).Equal(localIP))

	var port [2]byte
	_, err = io.ReadFull(client, port[:])
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), binary.BigEndian.Uint16(port[:]))
}

func doGreeting(t *testing.T, client net.Conn) error {
	t.Helper()
	if _, err := client.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return err
	}
	var method [2]byte
	_, err := io.ReadFull(client, method[:])
	return err
}
