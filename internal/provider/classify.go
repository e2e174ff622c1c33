package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a failed provider call and decides retry behavior.
type ErrorKind string

const (
	// KindTransient covers timeouts, connection failures, and 5xx responses.
	// Retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindRateLimit is a 429 without a quota marker. Retried after the
	// server-indicated delay when present.
	KindRateLimit ErrorKind = "rate_limit"
	// KindQuota is an exhausted account or billing limit. Never retried;
	// processing stops for the cycle.
	KindQuota ErrorKind = "quota"
	// KindClientError is any other 4xx. Not retried; the job fails.
	KindClientError ErrorKind = "client_error"
	// KindEmptyResponse is a well-formed response with no usable content.
	KindEmptyResponse ErrorKind = "empty_response"
	// KindEncoding means the request payload could not be serialized.
	// Not retried; the configuration needs fixing.
	KindEncoding ErrorKind = "encoding_error"
)

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter int // seconds, 0 when the server gave no hint
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimit
}

// IsQuota reports whether err is a quota exhaustion error.
func IsQuota(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindQuota
}

// IsTerminal reports whether err is a classified failure that further
// attempts cannot fix.
func IsTerminal(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && !pe.Retryable()
}

// quotaMarkers are upstream error type strings that indicate an exhausted
// account rather than transient throttling.
var quotaMarkers = []string{
	"insufficient_quota",
	"billing_hard_limit_reached",
	"quota_exceeded",
}

// classifyHTTPError maps an upstream HTTP failure to an Error. errType and
// message come from the parsed response body.
func classifyHTTPError(statusCode int, errType, message string, retryAfter int) *Error {
	switch {
	case statusCode == 429:
		for _, marker := range quotaMarkers {
			if errType == marker || strings.Contains(message, marker) {
				return &Error{Kind: KindQuota, StatusCode: statusCode, Message: message}
			}
		}
		return &Error{Kind: KindRateLimit, StatusCode: statusCode, Message: message, RetryAfter: retryAfter}
	case statusCode == 500 || statusCode == 502 || statusCode == 503 || statusCode == 504:
		return &Error{Kind: KindTransient, StatusCode: statusCode, Message: message}
	case statusCode >= 400 && statusCode < 500:
		return &Error{Kind: KindClientError, StatusCode: statusCode, Message: message}
	default:
		return &Error{Kind: KindTransient, StatusCode: statusCode, Message: message}
	}
}

// classifyTransportError maps a network-level failure to an Error. Context
// cancellation is passed through untouched so callers can distinguish
// shutdown from provider trouble.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTransient, Message: "request timed out: " + err.Error()}
	}
	return &Error{Kind: KindTransient, Message: err.Error()}
}
