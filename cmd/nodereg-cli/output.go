package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Klingon-tech/nodereg/internal/ledger"
)

// Exit codes.
const (
	exitOK      = 0
	exitUsage   = 1
	exitFailure = 2
)

type envelope struct {
	Command string      `json:"command"`
	OK      bool        `json:"ok"`
	Result  interface{} `json:"result,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Kind    ledger.Kind `json:"kind"`
	Message string      `json:"message"`
}

// emit writes one JSON line describing the outcome and returns the exit code.
func emit(w io.Writer, command string, result interface{}, err error) int {
	env := envelope{Command: command, OK: err == nil}
	code := exitOK
	if err != nil {
		kind := ledger.KindOf(err)
		env.Error = &errorBody{Kind: kind, Message: err.Error()}
		code = exitFailure
		if kind == ledger.KindValidation {
			code = exitUsage
		}
		var p *partialError
		if errors.As(err, &p) {
			env.Result = p.result
		}
	} else {
		env.Result = result
	}

	line, mErr := json.Marshal(env)
	if mErr != nil {
		line, _ = json.Marshal(envelope{
			Command: command,
			Error:   &errorBody{Kind: ledger.KindUnknown, Message: "encode result: " + mErr.Error()},
		})
		code = exitFailure
	}
	fmt.Fprintln(w, string(line))
	return code
}

// partialError carries what a multi-step command completed before it failed.
// emit puts the result next to the error.
type partialError struct {
	result interface{}
	err    error
}

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

func usageError(command, format string, args ...interface{}) error {
	return ledger.Invalid(command, format, args...)
}
