package arr

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Category classifies an upstream failure for retry and state decisions.
type Category string

const (
	CategoryAuth      Category = "authentication"
	CategoryNotFound  Category = "not_found"
	CategoryRateLimit Category = "rate_limit"
	CategoryServer    Category = "server"
	CategoryNetwork   Category = "network"
	CategoryTimeout   Category = "timeout"
	CategorySSL       Category = "ssl"
	CategoryNoResults Category = "no_results"
	CategoryUnknown   Category = "unknown"
)

// Sentinel errors for errors.Is checks at the boundary.
var (
	ErrAuth        = errors.New("arr: authentication rejected")
	ErrNotFound    = errors.New("arr: resource not found")
	ErrRateLimited = errors.New("arr: rate limited by upstream")
	ErrServer      = errors.New("arr: upstream internal error (5xx)")
	ErrNetwork     = errors.New("arr: host unreachable or transport failure")
	ErrTimeout     = errors.New("arr: request timed out")
	ErrSSL         = errors.New("arr: TLS negotiation failed")
	ErrBadResponse = errors.New("arr: invalid response format or malformed data")
)

// Error is the rich error type the client returns. It wraps one of the
// sentinels so callers can branch with errors.Is while still seeing the
// operation, status and cause.
type Error struct {
	Sentinel   error
	Category   Category
	Operation  string
	StatusCode int
	RetryAfter time.Duration // only for rate_limit responses carrying Retry-After
	Cause      string        // network failure detail: connection_refused, dns_failure, ...
	Timestamp  time.Time
	Err        error // nested lower-level error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("arr: %s: %v", e.Operation, e.Sentinel)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Cause)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// Retryable reports whether the automatic retry policy may re-attempt the
// request. Authentication, not-found and TLS failures never retry.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryRateLimit, CategoryServer, CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}

func newStatusError(op string, status int, retryAfter time.Duration) *Error {
	e := &Error{Operation: op, StatusCode: status, Timestamp: time.Now().UTC()}
	switch {
	case status == 401 || status == 403:
		e.Sentinel, e.Category = ErrAuth, CategoryAuth
	case status == 404:
		e.Sentinel, e.Category = ErrNotFound, CategoryNotFound
	case status == 429:
		e.Sentinel, e.Category, e.RetryAfter = ErrRateLimited, CategoryRateLimit, retryAfter
	case status >= 500:
		e.Sentinel, e.Category = ErrServer, CategoryServer
	default:
		e.Sentinel, e.Category = ErrBadResponse, CategoryUnknown
	}
	return e
}

// classifyTransportError maps a transport-level failure onto the taxonomy.
func classifyTransportError(op string, err error) *Error {
	e := &Error{Operation: op, Err: err, Timestamp: time.Now().UTC()}

	var tlsErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Sentinel, e.Category = ErrTimeout, CategoryTimeout
	case errors.As(err, &tlsErr), errors.As(err, &recordErr):
		e.Sentinel, e.Category = ErrSSL, CategorySSL
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			e.Sentinel, e.Category = ErrTimeout, CategoryTimeout
			return e
		}
		e.Sentinel, e.Category = ErrNetwork, CategoryNetwork
		e.Cause = networkCause(err)
	}
	return e
}

func networkCause(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_failure"
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection_refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection_reset"
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return "host_unreachable"
	default:
		return "transport_error"
	}
}

// CategoryOf extracts the category from any error returned by this package.
// Unrecognised errors are CategoryUnknown.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryUnknown
}

// IsRetryable reports whether err may be retried per the wire policy.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
