package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// ErrorKind separates transient network failures from protocol failures.
type ErrorKind int

const (
	KindProtocol ErrorKind = iota
	KindNetwork
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	if k == KindNetwork {
		return "network"
	}
	return "protocol"
}

// Error is a classified gateway error.
type Error struct {
	Kind ErrorKind
	Op   string // "dial", "read", "hello", "identify", "close", ...
	Code int    // Close code when the error came from a close frame
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gateway %s error during %s (close %d): %v", e.Kind, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s error during %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError classifies err and wraps it.
func newError(op string, code int, err error) *Error {
	return &Error{Kind: ClassifyError(err), Op: op, Code: code, Err: err}
}

// ClassifyError reports whether err is a network-level failure (reset,
// refused, timeout, DNS, unreachable, abrupt EOF) or anything else.
func ClassifyError(err error) ErrorKind {
	if IsNetworkError(err) {
		return KindNetwork
	}
	return KindProtocol
}

// IsNetworkError checks if an error is a transient network failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == KindNetwork
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseAbnormalClosure
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// closeCodeOf extracts the close code from a read error. Errors that did not
// carry a close frame map to CloseAbnormal.
func closeCodeOf(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// Close code policy sets.
var (
	resumableCloseCodes = map[int]struct{}{
		CloseUnknownError:    {},
		CloseUnknownOpcode:   {},
		CloseDecodeError:     {},
		CloseSessionTimedOut: {},
	}
	reconnectCloseCodes = map[int]struct{}{
		CloseNormal:               {},
		CloseNotAuthenticated:     {},
		CloseAlreadyAuthenticated: {},
		CloseInvalidSeq:           {},
		CloseRateLimited:          {},
	}
)

// recoveryFor maps a close code to a recovery mode. expected is false for
// codes outside both policy sets; those resume unless the failure was
// network related.
func recoveryFor(code int, networkFailure bool) (mode RecoverMode, expected bool) {
	if _, ok := resumableCloseCodes[code]; ok {
		return RecoverResume, true
	}
	if _, ok := reconnectCloseCodes[code]; ok {
		return RecoverReconnect, true
	}
	if networkFailure {
		return RecoverReconnect, false
	}
	return RecoverResume, false
}
