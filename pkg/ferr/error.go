package ferr

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/kazz187/taskforge/pkg/flog"
)

type Error struct {
	Code  Code
	Msg   string // message returned to callers together with the code
	Err   error  // underlying error kept for logs
	Stack string // stack trace, captured for error-level codes
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if code.Level() == flog.LevelError {
		stackTrace := make([]byte, 2048)
		n := runtime.Stack(stackTrace, false)
		err.Stack = string(stackTrace[0:n])
	}
	return err
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code.String(), e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code.String(), e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsCode(err error, code Code) bool {
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr.Code == code
	}
	return false
}

// CodeOf classifies any error into a Code. Context cancellation and
// deadline errors map to Cancelled and TimedOut even when unwrapped.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr.Code
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	return Unknown
}
