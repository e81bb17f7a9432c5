// Package failure defines the coded errors surfaced by the navigation stack.
//
// Every expected operational outcome (obstruction, veto, unreachable goal, ...)
// is returned as an *Error carrying one of the codes below. Callers match with
// errors.Is against the sentinel for the code, or read the code with CodeOf.
package failure

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidPose        Code = "E_INVALID_POSE"
	CodeObstructed         Code = "E_OBSTRUCTED"
	CodePhysicalFailure    Code = "E_PHYSICAL_FAILURE"
	CodeBoundaryViolation  Code = "E_BOUNDARY_VIOLATION"
	CodeSearchExhausted    Code = "E_SEARCH_EXHAUSTED"
	CodeGoalUnreachable    Code = "E_GOAL_UNREACHABLE"
	CodePathTooLong        Code = "E_PATH_TOO_LONG"
	CodePathBlocked        Code = "E_PATH_BLOCKED"
	CodeOracleUnavailable  Code = "E_ORACLE_UNAVAILABLE"
	CodeCalibrationBlocked Code = "E_CALIBRATION_BLOCKED"
	CodeEmergencyVeto      Code = "E_EMERGENCY_VETO"
	CodeCancelled          Code = "E_CANCELLED"
	CodeBusy               Code = "E_BUSY"
)

var knownCodes = map[Code]struct{}{
	CodeInvalidPose:        {},
	CodeObstructed:         {},
	CodePhysicalFailure:    {},
	CodeBoundaryViolation:  {},
	CodeSearchExhausted:    {},
	CodeGoalUnreachable:    {},
	CodePathTooLong:        {},
	CodePathBlocked:        {},
	CodeOracleUnavailable:  {},
	CodeCalibrationBlocked: {},
	CodeEmergencyVeto:      {},
	CodeCancelled:          {},
	CodeBusy:               {},
}

func IsKnownCode(c Code) bool {
	_, ok := knownCodes[c]
	return ok
}

// Error is a coded navigation failure. Reason is free text for logs and stats.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	case e.Reason == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidPose        = &Error{Code: CodeInvalidPose}
	ErrObstructed         = &Error{Code: CodeObstructed}
	ErrPhysicalFailure    = &Error{Code: CodePhysicalFailure}
	ErrBoundaryViolation  = &Error{Code: CodeBoundaryViolation}
	ErrSearchExhausted    = &Error{Code: CodeSearchExhausted}
	ErrGoalUnreachable    = &Error{Code: CodeGoalUnreachable}
	ErrPathTooLong        = &Error{Code: CodePathTooLong}
	ErrPathBlocked        = &Error{Code: CodePathBlocked}
	ErrOracleUnavailable  = &Error{Code: CodeOracleUnavailable}
	ErrCalibrationBlocked = &Error{Code: CodeCalibrationBlocked}
	ErrEmergencyVeto      = &Error{Code: CodeEmergencyVeto}
	ErrCancelled          = &Error{Code: CodeCancelled}
	ErrBusy               = &Error{Code: CodeBusy}
)

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf returns the reason of the first *Error in err's chain, falling back
// to err.Error().
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}
