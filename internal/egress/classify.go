package egress

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// classifyDialErr maps a net.Dialer/net.Conn error to an egress
// Reason, following the same errors.Is(err, syscall.ECONNREFUSED)
// style the teacher's handleConnection uses.
func classifyDialErr(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newError(ReasonHostUnreachable, op, err)
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return newError(ReasonConnectionRefused, op, err)
	case errors.Is(err, syscall.ENETUNREACH):
		return newError(ReasonNetworkUnreachable, op, err)
	case errors.Is(err, syscall.EHOSTUNREACH):
		return newError(ReasonHostUnreachable, op, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return newError(ReasonHostUnreachable, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ReasonHostUnreachable, op, err)
	}

	return newError(ReasonGeneral, op, err)
}
