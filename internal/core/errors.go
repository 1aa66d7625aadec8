package core

import (
	"errors"
	"fmt"
)

const (
	CodeConfigInvalid          = "E_CONFIG_INVALID"
	CodeConnectionDown         = "E_CONNECTION_DOWN"
	CodeSchemaDiscovery        = "E_SCHEMA_DISCOVERY"
	CodeViewExists             = "E_VIEW_EXISTS"
	CodeDDLFailed              = "E_DDL_FAILED"
	CodeFaultToleranceExceeded = "E_FAULT_TOLERANCE_EXCEEDED"
	CodeJobAborted             = "E_JOB_ABORTED"
	CodePartitionPlanning      = "E_PARTITION_PLANNING"
)

// Error wraps pipe-layer failures with a structured code and retryability hint.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

// CodedError exposes structured error metadata without concrete type assertions.
type CodedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// WrapError builds a coded error around err.
func WrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Errorf builds a coded error from a format string.
func Errorf(code string, retryable bool, format string, args ...any) *Error {
	return &Error{Code: code, Retryable: retryable, Err: fmt.Errorf(format, args...)}
}

// CodeValue extracts the structured code from an error chain, or "".
func CodeValue(err error) string {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.CodeValue()
	}
	return ""
}

// RetryableStatus reports whether an error chain is marked retryable.
func RetryableStatus(err error) bool {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.RetryableStatus()
	}
	return false
}
