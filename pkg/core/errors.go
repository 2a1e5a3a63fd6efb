package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind is the exchange-agnostic category of a failure.
type ErrorKind int

// Error kinds returned by every gateway operation.
const (
	// ErrorKindUnknown indicates an unclassified error. The raw exchange code is kept on the error.
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindUnsupportedExchange indicates the exchange name is not in the supported set.
	ErrorKindUnsupportedExchange
	// ErrorKindConfiguration indicates missing or invalid credentials or settings.
	ErrorKindConfiguration
	// ErrorKindUnknownPair indicates the pair is not configured for the exchange.
	ErrorKindUnknownPair
	// ErrorKindOrderNotFound indicates the exchange does not know the order.
	ErrorKindOrderNotFound
	// ErrorKindOrderAlreadyTerminal indicates the order is already filled, canceled or rejected.
	ErrorKindOrderAlreadyTerminal
	// ErrorKindRateLimitExceeded indicates a local or remote rate limit was hit.
	ErrorKindRateLimitExceeded
	// ErrorKindTransientNetwork indicates a timeout, connection failure or 5xx.
	ErrorKindTransientNetwork
	// ErrorKindFatalExchange indicates the exchange refused the request for good.
	ErrorKindFatalExchange
	// ErrorKindDuplicateOrder indicates the exchange already holds an order with the client id.
	// Clients resolve it into the original order and never return it.
	ErrorKindDuplicateOrder
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUnsupportedExchange:
		return "UNSUPPORTED_EXCHANGE"
	case ErrorKindConfiguration:
		return "CONFIGURATION"
	case ErrorKindUnknownPair:
		return "UNKNOWN_PAIR"
	case ErrorKindOrderNotFound:
		return "ORDER_NOT_FOUND"
	case ErrorKindOrderAlreadyTerminal:
		return "ORDER_ALREADY_TERMINAL"
	case ErrorKindRateLimitExceeded:
		return "RATE_LIMIT_EXCEEDED"
	case ErrorKindTransientNetwork:
		return "TRANSIENT_NETWORK"
	case ErrorKindFatalExchange:
		return "FATAL_EXCHANGE"
	case ErrorKindDuplicateOrder:
		return "DUPLICATE_ORDER"
	}
	return "UNKNOWN"
}

// Retryable reports whether a call failing with this kind may succeed when repeated.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindRateLimitExceeded || k == ErrorKindTransientNetwork
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrStreamClosed is returned when a stream ended without a reason from the caller.
	ErrStreamClosed = errors.New("stream is closed")
)

// ExchangeError represents a structured error returned from an exchange.
// It provides detailed context for debugging and error handling.
type ExchangeError struct {
	// Kind categorizes the error for programmatic handling.
	Kind ErrorKind `json:"kind"`
	// StatusCode is the HTTP status code from the response, zero for local errors.
	StatusCode int `json:"status_code"`
	// Code is the exchange-specific or local error code.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Raw contains the original error response for debugging.
	Raw string `json:"raw,omitempty"`
	// Exchange identifies which exchange returned this error.
	Exchange string `json:"exchange"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`

	cause error
}

// Error implements the error interface for ExchangeError.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%d/%s): %s",
			e.Exchange, e.Kind, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.Exchange, e.Kind, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ExchangeError) Unwrap() error {
	return e.cause
}

// WithCode sets a local error code and returns the error for chaining.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// WithRaw keeps the exchange's original payload on the error.
func (e *ExchangeError) WithRaw(raw []byte) *ExchangeError {
	e.Raw = string(raw)
	return e
}

// WithCause attaches the underlying error so errors.Is/As can reach it.
func (e *ExchangeError) WithCause(err error) *ExchangeError {
	e.cause = err
	return e
}

// NewExchangeError creates a new ExchangeError with the specified details.
// The timestamp is automatically set to the current time.
func NewExchangeError(exchange string, kind ErrorKind, statusCode int, message string) *ExchangeError {
	return &ExchangeError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Exchange:   exchange,
		Timestamp:  time.Now(),
	}
}

// NewExchangeErrorWithCode creates a new ExchangeError including an exchange-specific error code.
func NewExchangeErrorWithCode(exchange string, kind ErrorKind, statusCode int, code, message string) *ExchangeError {
	e := NewExchangeError(exchange, kind, statusCode, message)
	e.Code = code
	return e
}

// Errorf builds a local ExchangeError with a formatted message.
func Errorf(exchange string, kind ErrorKind, format string, args ...any) *ExchangeError {
	return NewExchangeError(exchange, kind, 0, fmt.Sprintf(format, args...))
}

// UnknownPairError reports a pair that is not configured for the exchange.
func UnknownPairError(exchange string, symbol string) *ExchangeError {
	return Errorf(exchange, ErrorKindUnknownPair, "pair %q is not configured", symbol).
		WithCode(ErrCodeInvalidSymbol)
}

// AsExchangeError extracts an ExchangeError from the chain.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr, true
	}
	return nil, false
}

// KindOf returns the kind of the first ExchangeError in the chain, or ErrorKindUnknown.
func KindOf(err error) ErrorKind {
	if exErr, ok := AsExchangeError(err); ok {
		return exErr.Kind
	}
	return ErrorKindUnknown
}

// IsKind reports whether err carries an ExchangeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	exErr, ok := AsExchangeError(err)
	return ok && exErr.Kind == kind
}

// IsRateLimitError returns true if the error is a rate limit violation.
func IsRateLimitError(err error) bool {
	return IsKind(err, ErrorKindRateLimitExceeded)
}

// IsAuthenticationError returns true for credential failures.
// Authentication errors require credential validation and are not retryable.
func IsAuthenticationError(err error) bool {
	return IsErrorCode(err, ErrCodeAuth)
}

// NeverAccepted reports whether err proves the exchange did not act on the
// request: a failed dial, an open breaker or a rate-limit refusal.
func NeverAccepted(err error) bool {
	exErr, ok := AsExchangeError(err)
	if !ok {
		return false
	}
	switch ErrorCode(exErr.Code) {
	case ErrCodeDial, ErrCodeCircuitBreaker:
		return true
	}
	return exErr.Kind == ErrorKindRateLimitExceeded ||
		exErr.StatusCode == http.StatusTooManyRequests
}

// OutcomeUnknown reports whether a failed write may still have taken effect,
// e.g. a timeout or 5xx after the exchange received the request.
func OutcomeUnknown(err error) bool {
	if err == nil || NeverAccepted(err) {
		return false
	}
	exErr, ok := AsExchangeError(err)
	if !ok {
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	return exErr.Kind == ErrorKindTransientNetwork || exErr.Kind == ErrorKindUnknown
}

// IsRetryable reports whether the failure is transient.
// A short-circuited call is not retried; the breaker decides when to probe again.
func IsRetryable(err error) bool {
	exErr, ok := AsExchangeError(err)
	if !ok {
		return false
	}
	if ErrorCode(exErr.Code) == ErrCodeCircuitBreaker {
		return false
	}
	return exErr.Kind.Retryable()
}
