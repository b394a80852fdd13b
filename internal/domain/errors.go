package domain

import "fmt"

// ErrorKind names a gateway failure class. The value is reported verbatim
// in the "error" field of failed tool results.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "AuthenticationError"
	KindRateLimit      ErrorKind = "RateLimitError"
	KindAPIResponse    ErrorKind = "APIResponseError"
	KindConnection     ErrorKind = "ConnectionError"
	KindToolExecution  ErrorKind = "ToolExecutionError"
)

// APIError is a typed failure of a call to the storage appliance.
type APIError struct {
	Kind    ErrorKind
	Message string
	Host    string
	// StatusCode is zero when no HTTP response was received.
	StatusCode   int
	ResponseBody string
	// RetryAfter is the server hint in seconds for rate-limit failures, zero when absent.
	RetryAfter int
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAuthenticationError reports rejected credentials for host.
func NewAuthenticationError(host string) *APIError {
	return &APIError{
		Kind:       KindAuthentication,
		Message:    "Authentication failed for host: " + host,
		Host:       host,
		StatusCode: 401,
	}
}

// NewRateLimitError reports a 429 response. retryAfter is zero when the header was absent.
func NewRateLimitError(host string, retryAfter int) *APIError {
	msg := "API rate limit exceeded."
	if retryAfter > 0 {
		msg = fmt.Sprintf("API rate limit exceeded. Retry after %d seconds.", retryAfter)
	}
	return &APIError{
		Kind:       KindRateLimit,
		Message:    msg,
		Host:       host,
		StatusCode: 429,
		RetryAfter: retryAfter,
	}
}

// NewAPIResponseError reports any other non-success status.
func NewAPIResponseError(host string, status int, body string) *APIError {
	return &APIError{
		Kind:         KindAPIResponse,
		Message:      fmt.Sprintf("API request failed: %d", status),
		Host:         host,
		StatusCode:   status,
		ResponseBody: body,
	}
}

// NewConnectionError reports a transport failure.
func NewConnectionError(host, msg string, err error) *APIError {
	return &APIError{
		Kind:    KindConnection,
		Message: msg,
		Host:    host,
		Err:     err,
	}
}
