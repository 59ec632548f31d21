package relay

import (
	"context"
	"time"
)

// OnDispatchFunc is called just before a dispatcher invokes its target.
type OnDispatchFunc func(ctx context.Context, ex *Exchange)

// OnSuccessFunc is called after a dispatch completes without an error on the exchange.
type OnSuccessFunc func(ctx context.Context, ex *Exchange, duration time.Duration)

// OnFailureFunc is called after a dispatch completes with an error on the exchange.
type OnFailureFunc func(ctx context.Context, ex *Exchange, err error, duration time.Duration)

// OnFailoverFunc is called when a failover strategy moves from one target to the next.
type OnFailoverFunc func(ctx context.Context, ex *Exchange, from, to string, err error)

// OnRedeliveryFunc is called before an error handler redelivers an exchange.
// attempt is 1-based.
type OnRedeliveryFunc func(ctx context.Context, ex *Exchange, attempt int, delay time.Duration, err error)

// OnExhaustedFunc is called when an error handler gives up on an exchange.
// policy is the policy that was applied.
type OnExhaustedFunc func(ctx context.Context, ex *Exchange, policy *ErrorPolicy, err error)

// hooks holds all configured hook functions.
type hooks struct {
	onDispatch   []OnDispatchFunc
	onSuccess    []OnSuccessFunc
	onFailure    []OnFailureFunc
	onFailover   []OnFailoverFunc
	onRedelivery []OnRedeliveryFunc
	onExhausted  []OnExhaustedFunc
}

// WithOnDispatch adds a hook called just before the dispatcher's target runs.
// Multiple hooks are called in order.
//
// Example:
//
//	relay.WithOnDispatch(func(ctx context.Context, ex *relay.Exchange) {
//	    logger.Debug().Str("exchange_id", ex.ID()).Msg("dispatching")
//	})
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(o *options) {
		o.hooks.onDispatch = append(o.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a dispatch succeeds.
// Multiple hooks are called in order.
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(o *options) {
		o.hooks.onSuccess = append(o.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a dispatch ends with an error on
// the exchange. Multiple hooks are called in order.
//
// Example:
//
//	relay.WithOnFailure(func(ctx context.Context, ex *relay.Exchange, err error, d time.Duration) {
//	    alerts.Notify(ex.ID(), err)
//	})
func WithOnFailure(fn OnFailureFunc) Option {
	return func(o *options) {
		o.hooks.onFailure = append(o.hooks.onFailure, fn)
	}
}

// WithOnFailover adds a hook called each time a failover strategy gives up
// on one target and tries another.
func WithOnFailover(fn OnFailoverFunc) Option {
	return func(o *options) {
		o.hooks.onFailover = append(o.hooks.onFailover, fn)
	}
}

// WithOnRedelivery adds a hook called before each redelivery attempt.
func WithOnRedelivery(fn OnRedeliveryFunc) Option {
	return func(o *options) {
		o.hooks.onRedelivery = append(o.hooks.onRedelivery, fn)
	}
}

// WithOnExhausted adds a hook called when redelivery is exhausted.
func WithOnExhausted(fn OnExhaustedFunc) Option {
	return func(o *options) {
		o.hooks.onExhausted = append(o.hooks.onExhausted, fn)
	}
}

func (h *hooks) callOnDispatch(ctx context.Context, ex *Exchange) {
	for _, fn := range h.onDispatch {
		fn(ctx, ex)
	}
}

func (h *hooks) callOnComplete(ctx context.Context, ex *Exchange, d time.Duration) {
	if err := ex.Err(); err != nil {
		for _, fn := range h.onFailure {
			fn(ctx, ex, err, d)
		}
		return
	}
	for _, fn := range h.onSuccess {
		fn(ctx, ex, d)
	}
}

func (h *hooks) callOnFailover(ctx context.Context, ex *Exchange, from, to string, err error) {
	for _, fn := range h.onFailover {
		fn(ctx, ex, from, to, err)
	}
}

func (h *hooks) callOnRedelivery(ctx context.Context, ex *Exchange, attempt int, delay time.Duration, err error) {
	for _, fn := range h.onRedelivery {
		fn(ctx, ex, attempt, delay, err)
	}
}

func (h *hooks) callOnExhausted(ctx context.Context, ex *Exchange, policy *ErrorPolicy, err error) {
	for _, fn := range h.onExhausted {
		fn(ctx, ex, policy, err)
	}
}
