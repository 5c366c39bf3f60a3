// Package faults defines the error taxonomy shared by the orchestrator,
// pipeline, and tool layers. Every fault carries a three-digit code, the
// stage it occurred in, and retryable/recoverable flags that drive retry
// and mission-failure decisions.
package faults

import (
	"errors"
	"fmt"
)

// Code identifies a fault family and member. Families group by prefix:
// E1xx network, E2xx tool, E3xx service, E4xx data, E5xx internal.
type Code string

const (
	CodeNetworkTimeout Code = "E101"
	CodeConnRefused    Code = "E102"
	CodeDNSFailure     Code = "E103"
	CodeTLSFailure     Code = "E104"

	CodeToolNotFound      Code = "E201"
	CodeToolExecFailed    Code = "E202"
	CodeToolTimeout       Code = "E203"
	CodeToolInvalidOutput Code = "E204"

	CodeServiceUnavailable Code = "E301"
	CodeRateLimited        Code = "E302"
	CodeAuthFailed         Code = "E303"

	CodeParseError      Code = "E401"
	CodeValidationError Code = "E402"
	CodeNotFound        Code = "E403"

	CodeInternal      Code = "E501"
	CodeAgentError    Code = "E502"
	CodeLLMError      Code = "E503"
	CodeSerialization Code = "E504"
)

// traits maps each code to its retry/recovery behavior.
var traits = map[Code]struct{ retryable, recoverable bool }{
	CodeNetworkTimeout: {true, true},
	CodeConnRefused:    {true, true},
	CodeDNSFailure:     {true, true},
	CodeTLSFailure:     {true, true},

	CodeToolNotFound:      {false, true},
	CodeToolExecFailed:    {false, true},
	CodeToolTimeout:       {true, true},
	CodeToolInvalidOutput: {false, true},

	CodeServiceUnavailable: {false, true},
	CodeRateLimited:        {true, true},
	CodeAuthFailed:         {false, true},

	CodeParseError:      {false, true},
	CodeValidationError: {false, true},
	CodeNotFound:        {false, true},

	CodeInternal:      {false, false},
	CodeAgentError:    {false, true},
	CodeLLMError:      {false, true},
	CodeSerialization: {false, true},
}

// Fault is an error annotated with taxonomy metadata.
type Fault struct {
	Code  Code
	Stage string // phase name where the fault occurred, e.g. "active_recon"
	Msg   string
	Err   error // wrapped cause, may be nil
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", f.Code, f.Stage, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", f.Code, f.Stage, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// Retryable reports whether the fault's code allows in-invocation retry.
func (f *Fault) Retryable() bool { return traits[f.Code].retryable }

// Recoverable reports whether the mission can continue past this fault.
// E501 is the only terminal code.
func (f *Fault) Recoverable() bool { return traits[f.Code].recoverable }

// New creates a fault with the given code, stage, and message.
func New(code Code, stage, msg string) *Fault {
	return &Fault{Code: code, Stage: stage, Msg: msg}
}

// Wrap creates a fault wrapping an underlying cause.
func Wrap(code Code, stage, msg string, err error) *Fault {
	return &Fault{Code: code, Stage: stage, Msg: msg, Err: err}
}

// As extracts a *Fault from an error chain, or nil.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// CodeOf returns the fault code for err, defaulting to E501 for
// unclassified errors.
func CodeOf(err error) Code {
	if f := As(err); f != nil {
		return f.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err carries a retryable fault code.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	if f := As(err); f != nil {
		return f.Retryable()
	}
	return false
}

// IsRecoverable reports whether the mission can continue past err.
// Unclassified errors are treated as internal (not recoverable).
func IsRecoverable(err error) bool {
	if f := As(err); f != nil {
		return f.Recoverable()
	}
	return false
}
