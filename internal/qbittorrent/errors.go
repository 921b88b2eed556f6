package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/raainshe/qbitdash/internal/metrics"
)

var (
	// ErrSessionExpired is reported when the WebUI keeps answering 403 after a fresh login
	ErrSessionExpired = errors.New("session rejected")
	// ErrCircuitOpen is reported while an instance's breaker refuses calls
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrInvalidPayload is reported for maindata that does not match the expected shape
	ErrInvalidPayload = errors.New("invalid maindata payload")
)

// AuthError reports a failed WebUI login
type AuthError struct {
	Instance string
	Status   int
	Reason   string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("qbittorrent %s: authentication failed: %s (status %d)", e.Instance, e.Reason, e.Status)
	}
	return fmt.Sprintf("qbittorrent %s: authentication failed: %s", e.Instance, e.Reason)
}

// SyncError reports a failed API call after authentication
type SyncError struct {
	Instance string
	Op       string
	Status   int
	Retried  bool
	Err      error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("qbittorrent %s: %s failed", e.Instance, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" with status %d", e.Status)
	}
	if e.Retried {
		msg += " after re-authentication"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// TransportError reports a network failure or timeout talking to an instance
type TransportError struct {
	Instance string
	Op       string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("qbittorrent %s: %s timed out: %v", e.Instance, e.Op, e.Err)
	}
	return fmt.Sprintf("qbittorrent %s: %s: %v", e.Instance, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(instance, op string, err error) *TransportError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &TransportError{Instance: instance, Op: op, Timeout: timeout, Err: err}
}

// Classify maps an error to the result label used in logs and metrics
func Classify(err error) string {
	var authErr *AuthError
	var syncErr *SyncError
	var transportErr *TransportError

	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrCircuitOpen):
		return metrics.ResultRejected
	case errors.As(err, &authErr):
		return metrics.ResultAuth
	case errors.As(err, &transportErr):
		return metrics.ResultTransport
	case errors.As(err, &syncErr):
		return metrics.ResultSync
	default:
		return metrics.ResultUnknown
	}
}
