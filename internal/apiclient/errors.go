package apiclient

import (
	"errors"
	"fmt"
)

// NetworkError reports a request that never produced an HTTP response:
// connection failures, DNS errors and timeouts.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerRejectedError is a non-2xx response below 500: a 4xx, or a 3xx the
// http client did not follow. Retrying the same request cannot succeed.
type ServerRejectedError struct {
	StatusCode int
	Message    string
}

func (e *ServerRejectedError) Error() string {
	return fmt.Sprintf("server rejected request: %d %s", e.StatusCode, e.Message)
}

// ServerError is a 5xx response.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err may succeed when the request is repeated.
func IsRetryable(err error) bool {
	var (
		netErr *NetworkError
		srvErr *ServerError
	)
	return errors.As(err, &netErr) || errors.As(err, &srvErr)
}

// IsNetwork reports whether err is a transport level failure.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
