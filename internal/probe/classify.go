package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/hamed0406/proxyscore/internal/domain"
)

// Classify maps a transport error to a failure kind. Deadlines win over
// everything else; dial, DNS and reset errors are connection failures; what
// remains (bad status line, broken framing) is a protocol failure.
func Classify(err error) domain.FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.FailureTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.FailureConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.FailureConnection
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return domain.FailureConnection
	}
	return domain.FailureProtocol
}
