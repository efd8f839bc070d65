package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies upstream failures into the small taxonomy the rest of
// the system reasons about.
type ErrorKind string

const (
	// KindAuth covers 401/403. Fatal, never retried.
	KindAuth ErrorKind = "auth"

	// KindRateLimit covers 429 and locally exhausted quota. Carries a
	// retry-after hint when the upstream provides one.
	KindRateLimit ErrorKind = "rate_limit"

	// KindTimeout covers transport timeouts.
	KindTimeout ErrorKind = "timeout"

	// KindGeneric covers everything else; retryability derives from the
	// status code.
	KindGeneric ErrorKind = "generic"
)

// ErrRetryExhausted marks an APIError whose retry budget was spent.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// APIError is the classified form of an upstream failure. Callers always
// receive either a valid value or one of these, never a raw transport error.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Endpoint   string
	Method     string

	// Attempts is the number of transport attempts made before the error
	// was surfaced.
	Attempts int

	// Retryable reports whether the retry policy may re-issue the request.
	Retryable bool

	// RetryAfter is the upstream's wait hint for rate limit errors, if any.
	RetryAfter time.Duration

	Message string
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("upstream %s error (%s %s, status %d, attempts %d): %s",
		e.Kind, e.Method, e.Endpoint, e.StatusCode, e.Attempts, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify maps a raw transport or HTTP failure to an APIError. Exactly one
// of status or err is meaningful: err set with status 0 means the transport
// failed without a response.
func Classify(endpoint, method string, status int, headers http.Header, err error) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		Endpoint:   endpoint,
		Method:     method,
		Err:        err,
	}

	if err != nil {
		if isTimeout(err) {
			apiErr.Kind = KindTimeout
			apiErr.Retryable = true
			apiErr.Message = "transport timeout"
			return apiErr
		}
		apiErr.Kind = KindGeneric
		apiErr.Retryable = true // no response received
		apiErr.Message = "network failure"
		return apiErr
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		apiErr.Kind = KindAuth
		apiErr.Retryable = false
		apiErr.Message = http.StatusText(status)
	case status == http.StatusTooManyRequests:
		apiErr.Kind = KindRateLimit
		apiErr.Retryable = true
		apiErr.Message = http.StatusText(status)
		apiErr.RetryAfter = retryAfterHint(headers)
	default:
		apiErr.Kind = KindGeneric
		apiErr.Retryable = status >= 500
		apiErr.Message = http.StatusText(status)
	}

	return apiErr
}

// isTimeout reports whether err is a transport timeout: either a net.Error
// that timed out or a context deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// retryAfterHint parses the Retry-After header (delta seconds form) from a
// 429 response. Returns 0 when absent or unparseable.
func retryAfterHint(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
