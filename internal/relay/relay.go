// Package relay implements the full-duplex byte copier between an
// accepted client stream and its established egress stream.
package relay

import (
	"io"
	"net"
	"sync"
)

// bufSize is the per-direction copy buffer size; spec §4.4 requires
// at least 8 KiB. 32 KiB matches Ealireza-SuperProxy/proxy.go's
// bufPool and lets Go's io.Copy use splice(2) on Linux when both ends
// are *net.TCPConn.
const bufSize = 32 * 1024

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bufSize)
		return &buf
	},
}

// ActiveGauge is implemented by internal/metrics to track concurrently
// running relay pairs. Run works with a nil gauge.
type ActiveGauge interface {
	Inc()
	Dec()
}

// Run copies bytes bidirectionally between client and egress until
// both directions have completed. Half-close is propagated: when one
// direction sees EOF, the opposite peer's write side is shut down (so
// it observes EOF itself) while the other direction keeps relaying
// until it too finishes. Any I/O error aborts both directions
// immediately — it closes both sockets so the pending Read/Write in
// the other goroutine unblocks.
func Run(client, egress net.Conn, active ActiveGauge) {
	if active != nil {
		active.Inc()
		defer active.Dec()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var once sync.Once
	abort := func() {
		once.Do(func() {
			client.Close()
			egress.Close()
		})
	}

	go func() {
		defer wg.Done()
		if err := copyAndHalfClose(egress, client); err != nil {
			abort()
		}
	}()
	go func() {
		defer wg.Done()
		if err := copyAndHalfClose(client, egress); err != nil {
			abort()
		}
	}()

	wg.Wait()
}

// copyAndHalfClose copies from src to dst until src returns EOF (or an
// error), then shuts down dst's write side and src's read side so the
// peer on dst observes EOF without tearing down the whole connection.
func copyAndHalfClose(dst, src net.Conn) error {
	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)

	_, err := io.CopyBuffer(dst, src, *bufp)

	if tc, ok := dst.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	if tc, ok := src.(*net.TCPConn); ok {
		tc.CloseRead()
	}

	return err
}
