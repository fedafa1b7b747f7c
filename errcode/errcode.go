package errcode

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a stable error class shared by boards, providers and the remote protocol.
// It is a comparable string newtype implementing error, so it can be wrapped with
// context and still matched with errors.Is.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// Configuration: a channel cannot be bound at setup, or config is inconsistent.
	Configuration Code = "configuration"
	// Direction: read/write against a port of the opposite direction or an unknown port.
	Direction Code = "direction"
	// Capability: voltage requested on a board without analog channels.
	Capability Code = "capability"
	// DeviceUnavailable: the physical device cannot be resolved or reached.
	DeviceUnavailable Code = "device_unavailable"
	// Protocol: malformed or unrecognised remote request.
	Protocol Code = "protocol"

	Error Code = "error"
)

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Is reports whether err carries code c.
func Is(err error, c Code) bool {
	return errors.Is(err, c)
}

type coded struct {
	code  Code
	msg   string
	cause error
}

func (e *coded) Error() string { return e.msg + ": " + e.cause.Error() }

func (e *coded) Unwrap() []error { return []error{e.code, e.cause} }

// Wrap classifies err as c. The message reads "msg: cause" and Of returns c
// even when the cause carries a code of its own; the cause stays in the chain.
func Wrap(err error, c Code, msg string) error {
	if err == nil {
		return nil
	}
	return &coded{code: c, msg: msg, cause: err}
}

func Wrapf(err error, c Code, format string, args ...interface{}) error {
	return Wrap(err, c, fmt.Sprintf(format, args...))
}
