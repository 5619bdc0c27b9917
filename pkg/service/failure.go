package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
)

// Error code constants
const (
	ErrorCodeUnknown         = "UNKNOWN_ERROR"
	ErrorCodeTimeout         = "TIMEOUT_ERROR"
	ErrorCodeNetwork         = "NETWORK_ERROR"
	ErrorCodeValidation      = "VALIDATION_ERROR"
	ErrorCodeNotFound        = "NOT_FOUND_ERROR"
	ErrorCodeUnauthorized    = "UNAUTHORIZED_ERROR"
	ErrorCodeForbidden       = "FORBIDDEN_ERROR"
	ErrorCodeBadRequest      = "BAD_REQUEST_ERROR"
	ErrorCodeInternal        = "INTERNAL_ERROR"
	ErrorCodeServerBusy      = "SERVER_BUSY_ERROR"
	ErrorCodeRateLimit       = "RATE_LIMIT_ERROR"
	ErrorCodeCircuitBreaker  = "CIRCUIT_BREAKER_ERROR"
	ErrorCodeInvalidResponse = "INVALID_RESPONSE_ERROR"
	ErrorCodeCancelled       = "CANCELLED"
)

// ReasonCancelled is the reason recorded for work abandoned on cancellation.
const ReasonCancelled = "cancelled"

// maxReasonLen bounds the body excerpt used as a failure reason.
const maxReasonLen = 512

// Failure is a classified service failure. Every error returned by a Client is
// a *Failure so callers can decide on retries without inspecting transport
// details.
type Failure struct {
	StatusCode int
	Code       string
	Reason     string
	Retryable  bool
	Err        error
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("[%s] status %d: %s", f.Code, f.StatusCode, f.Reason)
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Reason)
}

// Unwrap returns the underlying error
func (f *Failure) Unwrap() error {
	return f.Err
}

// Cancelled reports whether the failure was caused by cancellation of the run.
func (f *Failure) Cancelled() bool {
	return f.Code == ErrorCodeCancelled
}

// retryableStatus lists the server-busy statuses worth another attempt.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsRetryableStatus reports whether a response status is transient.
func IsRetryableStatus(status int) bool {
	return retryableStatus[status]
}

// StatusCode maps a response status to a standardized error code
func StatusCode(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorCodeBadRequest
	case status == http.StatusUnauthorized:
		return ErrorCodeUnauthorized
	case status == http.StatusForbidden:
		return ErrorCodeForbidden
	case status == http.StatusNotFound:
		return ErrorCodeNotFound
	case status == http.StatusRequestTimeout:
		return ErrorCodeTimeout
	case status == http.StatusUnprocessableEntity:
		return ErrorCodeValidation
	case status == http.StatusTooManyRequests:
		return ErrorCodeRateLimit
	case status == http.StatusTooEarly,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return ErrorCodeServerBusy
	case status >= 500:
		return ErrorCodeInternal
	case status >= 400:
		return ErrorCodeBadRequest
	default:
		return ErrorCodeUnknown
	}
}

// FromResponse builds a failure for a non-success response, taking the reason
// from the body's message fields when it is JSON.
func FromResponse(status int, body []byte) *Failure {
	return &Failure{
		StatusCode: status,
		Code:       StatusCode(status),
		Reason:     reasonFromBody(status, body),
		Retryable:  IsRetryableStatus(status),
	}
}

func reasonFromBody(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		for _, path := range []string{"message", "error.message", "error_description", "error", "errors.0.message", "errors.0.description", "detail"} {
			if v := parsed.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	if utf8.RuneCountInString(text) > maxReasonLen {
		text = string([]rune(text)[:maxReasonLen]) + "..."
	}
	return text
}

// Classify converts an error from the transport or the limiter into a Failure.
// A nil error yields nil.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Failure{Code: ErrorCodeCancelled, Reason: ReasonCancelled, Err: err}
	case errors.Is(err, concurrency.ErrCircuitOpen):
		return &Failure{Code: ErrorCodeCircuitBreaker, Reason: err.Error(), Retryable: true, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{Code: ErrorCodeTimeout, Reason: "request timed out", Retryable: true, Err: err}
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return &Failure{Code: ErrorCodeNetwork, Reason: err.Error(), Retryable: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Failure{Code: ErrorCodeTimeout, Reason: err.Error(), Retryable: true, Err: err}
		}
		return &Failure{Code: ErrorCodeNetwork, Reason: err.Error(), Retryable: true, Err: err}
	}

	return &Failure{Code: ErrorCodeUnknown, Reason: err.Error(), Err: err}
}
