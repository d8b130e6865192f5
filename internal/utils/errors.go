package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrorType classifies failures crossing the gateway. It decides retry
// eligibility and the status code the dashboard sees.
type ErrorType string

const (
	ErrValidation         ErrorType = "validation_error"
	ErrNetwork            ErrorType = "network_error"
	ErrTimeout            ErrorType = "timeout"
	ErrRateLimit          ErrorType = "rate_limit"
	ErrTokenRevoked       ErrorType = "token_revoked"
	ErrNotFound           ErrorType = "not_found"
	ErrBadRequest         ErrorType = "bad_request"
	ErrServiceUnavailable ErrorType = "service_unavailable"
	ErrUnexpected         ErrorType = "unexpected_error"
)

// Retryable reports whether a failed call of this type may be attempted again.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrNetwork, ErrTimeout, ErrRateLimit, ErrServiceUnavailable:
		return true
	}
	return false
}

// HTTPStatus is the status the gateway answers with for this type.
func (t ErrorType) HTTPStatus() int {
	switch t {
	case ErrValidation, ErrBadRequest:
		return http.StatusBadRequest
	case ErrTokenRevoked:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrNetwork:
		return http.StatusBadGateway
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// APIError is the single error shape used between the backend, the retry
// loop and the HTTP error writer.
type APIError struct {
	Type       ErrorType
	Status     int
	Message    string
	Details    map[string]string
	RetryAfter time.Duration
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Message != e.Err.Error() {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// New creates an APIError of the given type with the default status for it.
func New(t ErrorType, message string) *APIError {
	return &APIError{Type: t, Status: t.HTTPStatus(), Message: message}
}

// Validation builds a validation error listing the offending fields.
func Validation(details map[string]string) *APIError {
	fields := make([]string, 0, len(details))
	for f := range details {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return &APIError{
		Type:    ErrValidation,
		Status:  http.StatusBadRequest,
		Message: "invalid parameters: " + strings.Join(fields, ", "),
		Details: details,
	}
}

// FromStatus classifies a non-2xx backend response. message is the text
// already extracted from the response body, if any.
func FromStatus(status int, message string, header http.Header) *APIError {
	t := ErrUnexpected
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		t = ErrBadRequest
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		t = ErrTokenRevoked
	case status == http.StatusNotFound:
		t = ErrNotFound
	case status == http.StatusRequestTimeout:
		t = ErrTimeout
	case status == http.StatusTooManyRequests:
		t = ErrRateLimit
	case status >= 500:
		t = ErrServiceUnavailable
	}
	if message == "" {
		message = http.StatusText(status)
	}
	e := &APIError{Type: t, Status: status, Message: message}
	if t == ErrRateLimit && header != nil {
		e.RetryAfter = ParseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	return e
}

// Classify maps any error onto the taxonomy. An *APIError anywhere in the
// chain is returned as is.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Type: ErrTimeout, Status: http.StatusGatewayTimeout, Message: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &APIError{Type: ErrUnexpected, Status: http.StatusInternalServerError, Message: "request cancelled", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Type: ErrTimeout, Status: http.StatusGatewayTimeout, Message: "request timed out", Err: err}
	}
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) {
		return &APIError{Type: ErrNetwork, Status: http.StatusBadGateway, Message: "backend unreachable", Err: err}
	}
	return &APIError{Type: ErrUnexpected, Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
}

// ParseRetryAfter understands both delta-seconds and HTTP-date values.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
