package relay

import (
	"context"
	"fmt"
)

// Target is a destination that performs the actual work on an exchange.
// Targets are owned by the caller; the dispatch core only invokes them.
//
// A returned error is captured on the exchange by whoever invoked the
// target. Targets should not panic; if they do, the panic is recovered and
// recorded as a *PanicError.
//
// Example:
//
//	type orderWriter struct {
//	    db *sql.DB
//	}
//
//	func (w *orderWriter) Process(ctx context.Context, ex *relay.Exchange) error {
//	    _, err := w.db.ExecContext(ctx, "INSERT INTO orders ...", ex.Body)
//	    return err
//	}
type Target interface {
	Process(ctx context.Context, ex *Exchange) error
}

// TargetFunc is a function adapter for Target. Use for simple targets that
// don't need a struct:
//
//	lb.Add(relay.TargetFunc(func(ctx context.Context, ex *relay.Exchange) error {
//	    return nil
//	}))
type TargetFunc func(ctx context.Context, ex *Exchange) error

// Process implements the Target interface.
func (f TargetFunc) Process(ctx context.Context, ex *Exchange) error {
	return f(ctx, ex)
}

// Callback is invoked exactly once when a dispatch completes. doneSync is
// true when the work completed within the dispatching call.
type Callback func(doneSync bool)

// AsyncTarget is implemented by targets that may complete after returning.
//
// ProcessAsync returns true when the work finished before returning, in
// which case done has already been called with true. It returns false when
// the work continues in the background; done is then called later with false.
// Errors are reported on the exchange.
type AsyncTarget interface {
	ProcessAsync(ctx context.Context, ex *Exchange, done Callback) bool
}

// Named is implemented by targets that expose a name for logs and hooks.
type Named interface {
	Name() string
}

// NamedTarget gives a target a name for logs, hooks and configuration.
func NamedTarget(name string, t Target) Target {
	return &namedTarget{name: name, Target: t}
}

type namedTarget struct {
	Target
	name string
}

func (t *namedTarget) Name() string { return t.name }

// targetName returns a label for t: its name when it has one, otherwise its position.
func targetName(t Target, index int) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("target-%d", index)
}

// invoke calls t, turning a panic into a *PanicError. When the exchange had
// no error before the call, an error the target left on it (for example a
// nested dispatcher) is returned even if the target itself returned nil.
func invoke(ctx context.Context, t Target, ex *Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	clean := ex.Err() == nil
	if err = t.Process(ctx, ex); err != nil {
		return err
	}
	if clean {
		return ex.Err()
	}
	return nil
}
