package apmz

import (
	"github.com/cockroachdb/errors"
)

// Caller-protocol errors. They are logged and counted by the tracer and
// never returned to instrumented code; errors.Is works on the logged values.
var (
	ErrNoStack        = errors.New("no activation stack in context")
	ErrAlreadyActive  = errors.New("span is already active")
	ErrNotOnStack     = errors.New("span is not on an activation stack")
	ErrNotTop         = errors.New("span is not the top of its activation stack")
	ErrStillActive    = errors.New("span ended while still active")
	ErrAlreadyEnded   = errors.New("span already ended")
	ErrNotEnded       = errors.New("span is not in the ended state")
	ErrHookPanic      = errors.New("instrumentation hook panicked")
	ErrInvalidOutcome = errors.New("invalid span outcome")
)

// protocolKind labels a protocol violation in logs and metrics.
func protocolKind(err error) string {
	switch {
	case errors.Is(err, ErrNoStack):
		return "no_stack"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrNotOnStack):
		return "not_on_stack"
	case errors.Is(err, ErrNotTop):
		return "not_top"
	case errors.Is(err, ErrStillActive):
		return "still_active"
	case errors.Is(err, ErrAlreadyEnded):
		return "already_ended"
	case errors.Is(err, ErrNotEnded):
		return "not_ended"
	case errors.Is(err, ErrHookPanic):
		return "hook_panic"
	case errors.Is(err, ErrInvalidOutcome):
		return "invalid_outcome"
	default:
		return "other"
	}
}

// panicError turns a recovered value into an error.
// Errors pass through so errors.Is keeps matching the original.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Newf("panic: %v", r)
}

func wrapHookPanic(r any) error {
	return errors.Wrapf(ErrHookPanic, "%v", r)
}
