package health

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-echo/internal/xerrors"
)

// Checker reports whether a component can serve; a nil error means yes.
type Checker interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Checker.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Healthy always passes.
var Healthy CheckFunc = func(context.Context) error { return nil }

// Failing always fails with reason.
func Failing(reason string) CheckFunc {
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// When passes while cond reports true and fails with reason otherwise.
func When(cond func() bool, reason string) CheckFunc {
	return func(context.Context) error {
		if cond() {
			return nil
		}
		return xerrors.New(reason)
	}
}

type namedCheck struct {
	name string
	c    Checker
}

// Readiness is an ordered set of named dependencies plus a drain switch.
// The zero value is ready. Failures are reported as "name: reason".
type Readiness struct {
	mu       sync.RWMutex
	checks   []namedCheck
	draining string
}

// Add registers a dependency; nil checkers are ignored.
func (rd *Readiness) Add(name string, c Checker) {
	if c == nil {
		return
	}
	rd.mu.Lock()
	rd.checks = append(rd.checks, namedCheck{name: name, c: c})
	rd.mu.Unlock()
}

// Drain makes every later Check fail until Resume.
func (rd *Readiness) Drain(reason string) {
	if reason == "" {
		reason = "draining"
	}
	rd.mu.Lock()
	rd.draining = reason
	rd.mu.Unlock()
}

// Resume clears a previous Drain.
func (rd *Readiness) Resume() {
	rd.mu.Lock()
	rd.draining = ""
	rd.mu.Unlock()
}

// Check fails while draining, then with the first failing dependency in
// registration order.
func (rd *Readiness) Check(ctx context.Context) error {
	rd.mu.RLock()
	draining := rd.draining
	checks := rd.checks
	rd.mu.RUnlock()

	if draining != "" {
		return xerrors.New(draining)
	}
	for _, nc := range checks {
		if err := nc.c.Check(ctx); err != nil {
			return xerrors.Wrap(err, nc.name)
		}
	}
	return nil
}
