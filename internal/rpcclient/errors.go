package rpcclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches any *TimeoutError with errors.Is.
var ErrTimeout = errors.New("rpc timeout")

// RPCError is returned when the server responds with an error object.
type RPCError struct {
	Code    int
	Message string
	Data    string
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TransportError means the endpoint could not be reached or the HTTP
// exchange failed before a JSON-RPC response was read.
type TransportError struct {
	Endpoint string
	Method   string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport to %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means a response arrived but was not a usable JSON-RPC 2.0 reply.
type ProtocolError struct {
	Method string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Method, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError means a round trip did not complete within the client timeout.
type TimeoutError struct {
	Endpoint string
	Method   string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response from %s within %s", e.Method, e.Endpoint, e.After)
}

// Is reports ErrTimeout equivalence.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
