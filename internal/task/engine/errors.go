package engine

import (
	"errors"
	"fmt"
)

// ErrPanic marks an item whose function panicked.
var ErrPanic = errors.New("item panicked")

type panicError struct {
	value any
	stack string
}

func (e panicError) Error() string { return fmt.Sprintf("%v: %v", ErrPanic, e.value) }
func (e panicError) Unwrap() error { return ErrPanic }

// PanicStack returns the captured stack for a recovered panic, if err is one.
func PanicStack(err error) string {
	var pe panicError
	if errors.As(err, &pe) {
		return pe.stack
	}
	return ""
}
