package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher adapts a target to the completion-callback contract.
//
// Dispatch invokes the target, converts returned errors and panics into the
// exchange's error slot, and calls the callback exactly once on every path.
// Errors never escape Dispatch; callers read them from the exchange after
// the callback fires.
//
// Usage:
//
//	lb, err := relay.NewLoadBalancer(relay.NewRoundRobinFailover(), primary, backup)
//	if err != nil {
//	    return err
//	}
//	d := relay.NewDispatcher(lb, relay.WithLogger(logger))
//
//	ex := relay.NewExchange(body)
//	d.Dispatch(ctx, ex, func(doneSync bool) {
//	    if err := ex.Err(); err != nil {
//	        // handle failure
//	    }
//	})
type Dispatcher struct {
	target Target
	hooks  hooks
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher for target.
func NewDispatcher(target Target, opts ...Option) *Dispatcher {
	o := buildOptions(opts)
	return &Dispatcher{
		target: target,
		hooks:  o.hooks,
		logger: o.logger,
	}
}

// Dispatch runs the target and calls done exactly once. It returns true when
// the dispatch completed within the call, which is always the case unless the
// target is an AsyncTarget that chose to continue in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, ex *Exchange, done Callback) bool {
	var once sync.Once
	start := time.Now()
	complete := func(doneSync bool) {
		once.Do(func() {
			d.hooks.callOnComplete(ctx, ex, time.Since(start))
			if done != nil {
				done(doneSync)
			}
		})
	}

	d.hooks.callOnDispatch(ctx, ex)

	if at, ok := d.target.(AsyncTarget); ok {
		return d.dispatchAsync(ctx, at, ex, complete)
	}

	if err := invoke(ctx, d.target, ex); err != nil {
		d.record(ex, err)
	}
	complete(true)
	return true
}

func (d *Dispatcher) dispatchAsync(ctx context.Context, at AsyncTarget, ex *Exchange, complete Callback) (doneSync bool) {
	defer func() {
		if r := recover(); r != nil {
			d.record(ex, &PanicError{Value: r})
			complete(true)
			doneSync = true
		}
	}()
	if at.ProcessAsync(ctx, ex, complete) {
		// A synchronous completion has normally called back already; once
		// makes this a no-op in that case.
		complete(true)
		return true
	}
	return false
}

func (d *Dispatcher) record(ex *Exchange, err error) {
	ex.SetErr(err)
	var pe *PanicError
	if errors.As(err, &pe) {
		exchangeEvent(d.logger.Error(), ex).Interface("panic", pe.Value).Msg("target panicked")
	}
}

// Process dispatches ex and waits for completion. It returns the error left
// on the exchange, or ctx.Err() if ctx ends before an asynchronous target
// completes.
//
// Process lets a Dispatcher be used as a Target.
func (d *Dispatcher) Process(ctx context.Context, ex *Exchange) error {
	finished := make(chan struct{})
	if d.Dispatch(ctx, ex, func(bool) { close(finished) }) {
		return ex.Err()
	}
	select {
	case <-finished:
		return ex.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
