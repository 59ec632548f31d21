package relay

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a component. Every constructor in this package takes
// the same Option type; options that do not apply to a component are ignored.
type Option func(*options)

type options struct {
	hooks  hooks
	logger zerolog.Logger

	rng *rand.Rand

	copy     CopyStrategy
	parallel int

	roundRobin  bool
	sticky      bool
	maxFailover int
	hierarchy   *Hierarchy
	failoverOn  []ErrorType

	defaultPolicy *ErrorPolicy
	sleep         func(ctx context.Context, d time.Duration) error
}

func buildOptions(opts []Option) options {
	o := options{
		logger:      zerolog.Nop(),
		copy:        ShallowCopy,
		maxFailover: -1,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newRand returns o's random source or a freshly seeded one.
func (o *options) newRand() *rand.Rand {
	if o.rng != nil {
		return o.rng
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRand sets the random source used by random selection and collision
// avoidance. The source is used under the component's lock and must not be
// shared with other components; Config.Build derives a separate source from
// it for each component it creates.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

// WithCopyStrategy sets how a topic copies the exchange for each target.
// The default is ShallowCopy.
func WithCopyStrategy(c CopyStrategy) Option {
	return func(o *options) {
		if c != nil {
			o.copy = c
		}
	}
}

// WithParallel lets a topic run up to n targets at once. Values below 2
// keep the default sequential broadcast.
func WithParallel(n int) Option {
	return func(o *options) {
		o.parallel = n
	}
}

// WithRoundRobin makes a failover strategy start each dispatch at the
// target after the one tried last, instead of always at the first target.
func WithRoundRobin() Option {
	return func(o *options) {
		o.roundRobin = true
	}
}

// WithSticky makes a failover strategy start each dispatch at the last
// target that succeeded.
func WithSticky() Option {
	return func(o *options) {
		o.sticky = true
	}
}

// WithMaxFailoverAttempts bounds how many times a failover strategy moves
// to another target per dispatch. A negative n tries each target once.
func WithMaxFailoverAttempts(n int) Option {
	return func(o *options) {
		o.maxFailover = n
	}
}

// WithHierarchy sets the error type hierarchy an error handler resolves
// policies against when it is given no resolver.
func WithHierarchy(h *Hierarchy) Option {
	return func(o *options) {
		o.hierarchy = h
	}
}

// WithFailoverOn restricts failover to errors whose type is one of types or
// a descendant of one in h. Other errors are returned without failover.
func WithFailoverOn(h *Hierarchy, types ...ErrorType) Option {
	return func(o *options) {
		o.hierarchy = h
		o.failoverOn = append(o.failoverOn, types...)
	}
}

// WithDefaultPolicy sets the policy an error handler applies when no
// registered policy matches.
func WithDefaultPolicy(p *ErrorPolicy) Option {
	return func(o *options) {
		o.defaultPolicy = p
	}
}

// WithSleeper replaces the function an error handler uses to wait between
// redeliveries. It must return early with an error when ctx is done.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
