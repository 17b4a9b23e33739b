package upload

import (
	"errors"
	"fmt"
)

// ErrNoEndpoint is returned when no endpoint base URL is configured.
var ErrNoEndpoint = errors.New("upload: API endpoint is not configured")

// NetworkError reports that the request never produced a response: DNS,
// connection, TLS, timeout or a body that could not be read.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upload: request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int

	// Detail is the "error" field of a JSON error body, if any.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("upload: server responded with %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("upload: server responded with %d", e.Code)
}

// ServerError reports a 2xx response whose body carries an error message
// instead of a response.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "upload: server error: " + e.Message
}

// MalformedResponseError reports a 2xx response whose body is not the
// expected JSON document.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("upload: malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Message returns the text shown to the user for an upload failure.
func Message(err error) string {
	var (
		netErr    *NetworkError
		statusErr *StatusError
		serverErr *ServerError
		malformed *MalformedResponseError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoEndpoint):
		return "API endpoint is not configured"
	case errors.As(err, &statusErr):
		if statusErr.Detail != "" {
			return fmt.Sprintf("Server responded with %d: %s", statusErr.Code, statusErr.Detail)
		}
		return fmt.Sprintf("Server responded with %d", statusErr.Code)
	case errors.As(err, &serverErr):
		return "Server error: " + serverErr.Message
	case errors.As(err, &malformed):
		return "Server sent an invalid response"
	case errors.As(err, &netErr):
		return fmt.Sprintf("Could not reach the server: %v", netErr.Err)
	default:
		return "Error processing audio: " + err.Error()
	}
}

// Kind classifies err for metrics: "config", "network", "server" or "unknown".
func Kind(err error) string {
	var (
		netErr    *NetworkError
		statusErr *StatusError
		serverErr *ServerError
		malformed *MalformedResponseError
	)
	switch {
	case errors.Is(err, ErrNoEndpoint):
		return "config"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &statusErr), errors.As(err, &serverErr), errors.As(err, &malformed):
		return "server"
	default:
		return "unknown"
	}
}
