// Package xerrors adds call-site information to errors so the logger can
// render error chains with file:line links and stack traces.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the stack captured where the error was created
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// wrapped adds a message and the single caller frame that added it
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error     { return w.err }
func (w *wrapped) PC() uintptr       { return w.pc }
func (w *wrapped) IsXerrorsWrapper() {}

// skip counts frames above the exported entrypoint (runtime.Callers + helper are handled here)
func stack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func newStacked(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stack(skip + 1)}
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return newStacked(errors.New(msg), 1) }

// Newf is New with formatting. %w is honored.
func Newf(format string, args ...any) error { return newStacked(fmt.Errorf(format, args...), 1) }

// WithStack attaches the caller's stack to err unconditionally.
func WithStack(err error) error { return newStacked(err, 1) }

// EnsureTrace attaches a stack only if nothing in the chain carries one yet.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return newStacked(err, 1)
}

// Wrap prefixes err with msg and records the calling frame.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller(1)}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}
