package core

import (
	"errors"
	"net/http"
)

// ErrorCode is a stable, machine-readable identifier for failures raised by the gateway itself.
// Exchange-reported codes are kept verbatim in ExchangeError.Code instead.
type ErrorCode string

const (
	ErrCodeNetwork     ErrorCode = "NETWORK_ERROR"
	ErrCodeDial        ErrorCode = "DIAL_ERROR"
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeRateLimit   ErrorCode = "RATE_LIMIT"
	ErrCodeRateWait    ErrorCode = "RATE_LIMIT_WAIT"
	ErrCodeAuth        ErrorCode = "AUTH_ERROR"
	ErrCodeBadRequest  ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeServerError ErrorCode = "SERVER_ERROR"
	ErrCodeDecode      ErrorCode = "DECODE_ERROR"

	ErrCodeInvalidOrder  ErrorCode = "INVALID_ORDER"
	ErrCodeInvalidSymbol ErrorCode = "INVALID_SYMBOL"
	// An earlier submission with the same client order id may or may not have been placed.
	ErrCodeOutcomeUnknown ErrorCode = "ORDER_OUTCOME_UNKNOWN"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeNoCredentials ErrorCode = "NO_CREDENTIALS"

	// Stream errors
	ErrCodeStreamExhausted ErrorCode = "STREAM_RECONNECT_EXHAUSTED"

	// Circuit breaker errors
	ErrCodeCircuitBreaker ErrorCode = "CIRCUIT_BREAKER_OPEN"

	ErrCodeUnsupported ErrorCode = "UNSUPPORTED_METHOD"
)

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}

// StatusError classifies a failed HTTP response by status code alone.
// Protocols fall back to it when the body carries no recognizable error code.
func StatusError(exchange string, resp *Response) *ExchangeError {
	status := resp.StatusCode
	var exErr *ExchangeError
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		exErr = NewExchangeError(exchange, ErrorKindRateLimitExceeded, status, "rate limit exceeded").WithCode(ErrCodeRateLimit)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		exErr = NewExchangeError(exchange, ErrorKindFatalExchange, status, "authentication failed").WithCode(ErrCodeAuth)
	case status == http.StatusRequestTimeout:
		exErr = NewExchangeError(exchange, ErrorKindTransientNetwork, status, "request timeout").WithCode(ErrCodeTimeout)
	case status >= 500:
		exErr = NewExchangeError(exchange, ErrorKindTransientNetwork, status, http.StatusText(status)).WithCode(ErrCodeServerError)
	case status == http.StatusNotFound:
		exErr = NewExchangeError(exchange, ErrorKindFatalExchange, status, "resource not found").WithCode(ErrCodeNotFound)
	case status >= 400:
		exErr = NewExchangeError(exchange, ErrorKindFatalExchange, status, http.StatusText(status)).WithCode(ErrCodeBadRequest)
	default:
		return nil
	}
	return exErr.WithRaw(resp.Body)
}
