package relay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Header and property names set by ErrorHandler.
const (
	HeaderRedelivered        = "relay.redelivered"
	HeaderRedeliveryCounter  = "relay.redelivery.counter"
	HeaderRedeliveryMax      = "relay.redelivery.max"
	PropertyExceptionCaught  = "relay.exception.caught"
	PropertyErrorHandled     = "relay.error.handled"
	PropertyDeadLetterFailed = "relay.deadletter.failed"
)

// ErrorHandler wraps a target with policy-driven recovery.
//
// When the target fails, the handler resolves an ErrorPolicy for the error
// (falling back to the default policy), redelivers as the policy allows,
// and once redelivery is exhausted hands the exchange to the policy's dead
// letter target. Handled and Continued policies clear the error afterwards.
type ErrorHandler struct {
	target        Target
	resolver      PolicyResolver
	policies      *Policies
	defaultPolicy *ErrorPolicy
	sleep         func(ctx context.Context, d time.Duration) error
	hooks         hooks
	logger        zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewErrorHandler creates an ErrorHandler around target. A nil resolver
// uses NewResolver over the WithHierarchy hierarchy; policies are required.
// The redelivery settings of the default policy and of every policy
// already registered are validated here.
func NewErrorHandler(target Target, resolver PolicyResolver, policies *Policies, opts ...Option) (*ErrorHandler, error) {
	if policies == nil {
		return nil, ErrNilPolicies
	}
	o := buildOptions(opts)
	if resolver == nil {
		resolver = NewResolver(o.hierarchy)
	}
	def := o.defaultPolicy
	if def == nil {
		def = &ErrorPolicy{}
	}
	if err := def.Redelivery.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	for _, e := range policies.snapshot() {
		if err := e.policy.Redelivery.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", e.key.Type, err)
		}
	}
	return &ErrorHandler{
		target:        target,
		resolver:      resolver,
		policies:      policies,
		defaultPolicy: def,
		sleep:         o.sleep,
		hooks:         o.hooks,
		logger:        o.logger,
		rng:           o.newRand(),
	}, nil
}

// Process implements Target.
func (h *ErrorHandler) Process(ctx context.Context, ex *Exchange) error {
	err := invoke(ctx, h.target, ex)
	if err == nil {
		return nil
	}

	policy := h.resolver.Resolve(h.policies, ex, err)
	if policy == nil {
		policy = h.defaultPolicy
	}
	rp := policy.Redelivery

	var delay time.Duration
	for attempt := 1; ; attempt++ {
		ex.SetErr(err)
		if !rp.ShouldRedeliver(ex, attempt, policy.RetryWhile) {
			break
		}

		delay = h.nextDelay(rp, delay, attempt)
		exchangeEvent(h.logger.Debug(), ex).
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("redelivering")
		h.hooks.callOnRedelivery(ctx, ex, attempt, delay, err)

		if serr := h.sleep(ctx, delay); serr != nil {
			break
		}

		ex.SetHeader(HeaderRedelivered, true)
		ex.SetHeader(HeaderRedeliveryCounter, attempt)
		ex.SetHeader(HeaderRedeliveryMax, rp.MaximumRedeliveries)
		ex.SetErr(nil)
		if policy.OnRedelivery != nil {
			if rerr := invoke(ctx, policy.OnRedelivery, ex); rerr != nil {
				err = rerr
				continue
			}
		}

		if err = invoke(ctx, h.target, ex); err == nil {
			ex.SetErr(nil)
			return nil
		}
	}

	return h.exhausted(ctx, ex, policy, err)
}

func (h *ErrorHandler) nextDelay(rp RedeliveryPolicy, previous time.Duration, attempt int) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return rp.NextDelay(previous, attempt, h.rng)
}

func (h *ErrorHandler) exhausted(ctx context.Context, ex *Exchange, policy *ErrorPolicy, err error) error {
	ex.SetErr(err)
	ex.SetProperty(PropertyExceptionCaught, err)

	exchangeEvent(h.logger.Warn(), ex).
		Err(err).
		Bool("handled", policy.Handled).
		Bool("continued", policy.Continued).
		Msg("redelivery exhausted")
	h.hooks.callOnExhausted(ctx, ex, policy, err)

	if policy.DeadLetter != nil {
		if derr := invoke(ctx, policy.DeadLetter, ex); derr != nil {
			exchangeEvent(h.logger.Error(), ex).
				Err(derr).
				AnErr("cause", err).
				Msg("dead letter target failed")
			ex.SetProperty(PropertyDeadLetterFailed, derr)
			return fmt.Errorf("dead letter: %w", derr)
		}
	}

	if policy.Handled || policy.Continued {
		ex.SetErr(nil)
		ex.SetProperty(PropertyErrorHandled, true)
		return nil
	}
	return err
}
