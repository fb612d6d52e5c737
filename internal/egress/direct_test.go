package egress

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchproxy/dispatch-proxy/internal/dispatch"
)

func TestDirect_DialsToListenerAndReportsLocalAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, _ := ln.Accept()
		if conn != nil {
			defer conn.Close()
		}
		close(accepted)
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	d := NewDirect(net.ParseIP("127.0.0.1"), "", 1)

	conn, local, err := d.Dial(context.Background(), dispatch.Destination{
		IP:   net.ParseIP("127.0.0.1"),
		Port: uint16(tcpAddr.Port),
	})
	require.NoError(t, err)
	defer conn.Close()
	<-accepted

	assert.NotNil(t, local)
	localTCP, ok := local.(*net.TCPAddr)
	require.True(t, ok)
	assert.True(t, localTCP.IP.IsLoopback())
}

func TestDirect_ConnectionRefusedIsClassified(t *testing.T) {
	// Bind and immediately close to get a port nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	d := NewDirect(net.ParseIP("127.0.0.1"), "", 1)
	_, _, err = d.Dial(context.Background(), dispatch.Destination{
		IP:   net.ParseIP("127.0.0.1"),
		Port: uint16(addr.Port),
	})
	require.Error(t, err)

	var egressErr *Error
	require.ErrorAs(t, err, &egressErr)
	assert.Equal(t, ReasonConnectionRefused, egressErr.Reason)
}

func TestDirect_Weight(t *testing.T) {
	d := NewDirect(net.ParseIP("127.0.0.1"), "", 7)
	assert.Equal(t, 7, d.Weight())
}
