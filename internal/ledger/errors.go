package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/nodereg/internal/rpcclient"
)

// Kind classifies a failure so callers and the CLI can react without string matching.
type Kind string

const (
	KindTransport    Kind = "transport"     // Endpoint unreachable.
	KindProtocol     Kind = "protocol"      // Malformed JSON-RPC reply.
	KindTimeout      Kind = "timeout"       // Round trip or receipt wait exceeded its bound.
	KindCanceled     Kind = "canceled"      // The caller's context was canceled, e.g. by an interrupt.
	KindRPC          Kind = "rpc"           // Endpoint returned a JSON-RPC error for a chain-native method.
	KindContractCall Kind = "contract_call" // View call reverted or returned nothing decodable.
	KindTransaction  Kind = "transaction"   // Signing, submission or execution failed.
	KindEventDecode  Kind = "event_decode"  // Expected event missing or undecodable.
	KindValidation   Kind = "validation"    // Caller-supplied input is malformed.
	KindUnknown      Kind = "unknown"
)

// ErrNoMatchingEvent is wrapped when a log does not carry the requested event.
var ErrNoMatchingEvent = errors.New("no matching event")

// ErrReverted is wrapped when a mined transaction has receipt status 0.
var ErrReverted = errors.New("transaction reverted")

// Error is a classified ledger failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies any error. Nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return classify(err, KindUnknown)
}

// Invalid builds a validation error.
func Invalid(op, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err and attaches op. Server-side JSON-RPC errors take the
// fallback kind, since their meaning depends on what was being attempted.
func Wrap(fallback Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err, fallback), Op: op, Err: err}
}

// Stopped reports why ctx ended: KindTimeout for a deadline, KindCanceled
// otherwise. detail is wrapped together with ctx.Err().
func Stopped(ctx context.Context, op string, detail error) error {
	kind := KindTimeout
	if errors.Is(ctx.Err(), context.Canceled) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%w: %w", detail, ctx.Err())}
}

func classify(err error, fallback Kind) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, rpcclient.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var te *rpcclient.TransportError
	if errors.As(err, &te) {
		return KindTransport
	}
	var pe *rpcclient.ProtocolError
	if errors.As(err, &pe) {
		return KindProtocol
	}
	return fallback
}
