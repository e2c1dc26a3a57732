package resilience

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"syscall"
)

// TransientError marks a failure that is safe to retry (429, 5xx, timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// StatusError is a non-2xx response that is not transient by default.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// HTTPError classifies a non-2xx response: 408, 429 and 5xx become a
// TransientError, everything else a StatusError.
func HTTPError(url string, statusCode int) error {
	se := &StatusError{URL: url, StatusCode: statusCode}
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(se, statusCode)
	}
	return se
}

// IsTransient reports whether err is a TransientError or looks like a
// network-level failure (timeout, reset, refused, DNS).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"client.timeout exceeded",
	"server closed idle connection",
}

// RetryStatuses returns a predicate that retries transient failures plus
// StatusErrors carrying one of codes. Anti-bot walls on some source sites
// answer 403 or 404 for a while before serving the real page.
func RetryStatuses(codes ...int) func(error) bool {
	return func(err error) bool {
		if IsTransient(err) {
			return true
		}
		var se *StatusError
		if errors.As(err, &se) {
			return slices.Contains(codes, se.StatusCode)
		}
		return false
	}
}

// IsTransientHTTPStatus reports whether statusCode is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch {
	case statusCode == 408, statusCode == 429:
		return true
	case statusCode >= 500 && statusCode <= 599:
		return true
	default:
		return false
	}
}
