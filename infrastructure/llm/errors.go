package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ahrav/go-verifier/internal/domain"
)

var (
	ErrEmptyAPIKey        = errors.New("API key cannot be empty")
	ErrEmptyResponse      = errors.New("empty response from API")
	ErrNoResponseChoice   = errors.New("no response choices returned")
	ErrInvalidModel       = errors.New("invalid or inaccessible model")
	ErrNoStructuredOutput = errors.New("no structured output in response")
)

// ErrorType classifies a provider failure. The value appears in error
// messages as is.
type ErrorType string

const (
	ErrorTypeUnknown        ErrorType = ""
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeBadRequest     ErrorType = "bad_request"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeContentPolicy  ErrorType = "content_policy"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeCanceled       ErrorType = "canceled"
)

// retryableTypes are the failures worth another attempt.
var retryableTypes = map[ErrorType]bool{
	ErrorTypeRateLimit:   true,
	ErrorTypeServerError: true,
	ErrorTypeNetwork:     true,
	ErrorTypeTimeout:     true,
}

// ProviderError is a provider failure normalized across SDKs.
type ProviderError struct {
	Type       ErrorType
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

// NewProviderError returns a ProviderError wrapping err.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{Type: errType, Provider: provider, StatusCode: statusCode, Message: message, Err: err}
}

// Error renders "provider error (HTTP n) [type]: message: cause", leaving
// out the parts that are unset.
func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" error")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Type != ErrorTypeUnknown {
		fmt.Fprintf(&b, " [%s]", e.Type)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool { return retryableTypes[e.Type] }

// errorClassifier turns SDK failures of one provider into ProviderErrors.
// Its value is the provider name.
type errorClassifier string

// fromStatus classifies by HTTP status. Anthropic reports overload as 529,
// which is handled like a rate limit.
func (c errorClassifier) fromStatus(status int, message string, err error) *ProviderError {
	var errType ErrorType
	switch {
	case status == http.StatusRequestTimeout:
		errType = ErrorTypeTimeout
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		errType = ErrorTypeAuthentication
		message = string(c) + " authentication failed"
	case status == http.StatusTooManyRequests, status == 529:
		errType = ErrorTypeRateLimit
		message = string(c) + " rate limit exceeded"
	case status == http.StatusNotFound:
		errType = ErrorTypeNotFound
	case status >= 500:
		errType = ErrorTypeServerError
	case status >= 400:
		errType = ErrorTypeBadRequest
	}
	return NewProviderError(string(c), errType, status, message, err)
}

// fromContext classifies a context failure. A deadline may be retried; a
// cancellation is final.
func (c errorClassifier) fromContext(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(string(c), ErrorTypeTimeout, 0, "context deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(string(c), ErrorTypeCanceled, 0, "request canceled", err)
	default:
		return NewProviderError(string(c), ErrorTypeUnknown, 0, "", err)
	}
}

// failed wraps an error that carried no status code.
func (c errorClassifier) failed(errType ErrorType, message string, err error) *ProviderError {
	return NewProviderError(string(c), errType, 0, message, err)
}

// IsContextError reports whether err stems from a context deadline or
// cancellation.
func IsContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// IsRetryable decides whether a failed call may be attempted again.
// Cancellation, budget exhaustion and an open circuit are final. Errors
// that classify themselves decide on their own; anything unclassified is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, domain.ErrBudgetExceeded) ||
		errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var classified interface{ IsRetryable() bool }
	if errors.As(err, &classified) {
		return classified.IsRetryable()
	}
	return true
}
