package app

import "errors"

// Process exit codes.
const (
	ExitOK      = 0
	ExitPartial = 1
	ExitFatal   = 2
)

// ExitError carries the exit code a command failure maps to.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Partial marks a run that completed with per-item failures.
func Partial(err error) error {
	return &ExitError{Code: ExitPartial, Err: err}
}

// Fatal marks a run that could not complete.
func Fatal(err error) error {
	return &ExitError{Code: ExitFatal, Err: err}
}

// ExitCode maps a command error to a process exit code. Errors without an
// explicit code, such as flag parsing errors, are fatal.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFatal
}
