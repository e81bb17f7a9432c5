package protocol

import (
	"errors"

	"turtlecraft.ai/internal/turtle"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Turtle outcomes.
	ErrBlocked   = "E_BLOCKED"
	ErrNoReading = "E_NO_READING"
	ErrBadOp     = "E_BAD_OP"
	ErrFailed    = "E_FAILED"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBlocked:         {},
	ErrNoReading:       {},
	ErrBadOp:           {},
	ErrFailed:          {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor classifies a turtle error for the wire.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, turtle.ErrBlocked):
		return ErrBlocked
	case errors.Is(err, turtle.ErrNoReading):
		return ErrNoReading
	}
	return ErrFailed
}

// RemoteError is a failure reported by the turtle host.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Op + ": " + e.Code
	}
	return e.Op + ": " + e.Code + ": " + e.Message
}

// Unwrap restores the turtle sentinels so callers can match on them.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case ErrBlocked:
		return turtle.ErrBlocked
	case ErrNoReading:
		return turtle.ErrNoReading
	}
	return nil
}

// Err returns nil for OK responses and a *RemoteError otherwise.
func (r ResponseMsg) Err(op string) error {
	if r.OK {
		return nil
	}
	code := r.Code
	if code == "" {
		code = ErrInternal
	}
	return &RemoteError{Op: op, Code: code, Message: r.Message}
}
