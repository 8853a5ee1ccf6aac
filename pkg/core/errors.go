package core

import (
	"errors"
	"fmt"
	"runtime"
)

type ErrorKind string

const (
	ErrorKindExecution     ErrorKind = "execution"
	ErrorKindSerialization ErrorKind = "serialization"
)

// TaskError is the transmissible form of a task failure.
type TaskError struct {
	Kind    ErrorKind
	Message string
	Stack   string
}

func NewTaskError(err error) *TaskError {
	te := &TaskError{Kind: ErrorKindExecution, Message: err.Error()}

	var serr *SerializationError
	if errors.As(err, &serr) {
		te.Kind = ErrorKindSerialization
	}
	var perr *PanicError
	if errors.As(err, &perr) {
		te.Message = fmt.Sprint(perr.Value)
		te.Stack = perr.Stack
	}
	return te
}

// AsError converts a received TaskError into the error surfaced to callers.
func (e *TaskError) AsError() error {
	exec := &TaskExecutionError{Message: e.Message, Stack: e.Stack}
	if e.Kind == ErrorKindSerialization {
		exec.Cause = &SerializationError{Message: e.Message}
	}
	return exec
}

// TaskExecutionError is the rejection value of a stage whose task failed.
type TaskExecutionError struct {
	Message string
	Stack   string
	Cause   error
}

func (e *TaskExecutionError) Error() string {
	return e.Message
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Cause
}

// SerializationError reports a callable, helper or value that cannot cross
// the worker boundary.
type SerializationError struct {
	Name    string
	Message string
	Err     error
}

func (e *SerializationError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Name != "" && e.Err != nil:
		return fmt.Sprintf("cannot serialize %s: %v", e.Name, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("cannot serialize: %v", e.Err)
	default:
		return fmt.Sprintf("cannot serialize %s", e.Name)
	}
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// UndefinedError is returned by Scope.Call for names that were never required.
type UndefinedError struct {
	Name string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("%s is not defined", e.Name)
}

// PanicError wraps a value recovered from a panicking callable together with
// the stack at the point of the panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func NewPanicError(v any) *PanicError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{Value: v, Stack: string(buf[:n])}
}

// IsTaskError reports whether err (or any error in its chain) is a task failure.
func IsTaskError(err error) bool {
	if err == nil {
		return false
	}
	var te *TaskExecutionError
	return errors.As(err, &te)
}

// CauseOf returns the cause of the first TaskExecutionError in err's chain,
// or the TaskExecutionError itself when it has no cause. Other errors are
// returned as-is.
func CauseOf(err error) error {
	var te *TaskExecutionError
	if errors.As(err, &te) {
		if te.Cause != nil {
			return te.Cause
		}
		return te
	}
	return err
}
