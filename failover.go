package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Failover tries targets in list order until one succeeds.
//
// By default every dispatch starts at the first target and each target is
// tried at most once, so N failing targets cost exactly N attempts before
// the last error is returned. Options change where a dispatch starts
// (WithRoundRobin, WithSticky), how far it may go (WithMaxFailoverAttempts)
// and which errors trigger failover (WithFailoverOn).
type Failover struct {
	roundRobin  bool
	sticky      bool
	maxFailover int
	hierarchy   *Hierarchy
	failoverOn  []ErrorType
	hooks       hooks
	logger      zerolog.Logger

	mu       sync.Mutex
	next     int
	lastGood int
}

// NewFailover creates a failover strategy.
func NewFailover(opts ...Option) *Failover {
	o := buildOptions(opts)
	h := o.hierarchy
	if h == nil {
		h = NewHierarchy()
	}
	return &Failover{
		roundRobin:  o.roundRobin,
		sticky:      o.sticky,
		maxFailover: o.maxFailover,
		hierarchy:   h,
		failoverOn:  o.failoverOn,
		hooks:       o.hooks,
		logger:      o.logger,
	}
}

// NewRoundRobinFailover creates a failover strategy that keeps a current
// index across dispatches: each dispatch starts after the target tried last.
func NewRoundRobinFailover(opts ...Option) *Failover {
	return NewFailover(append([]Option{WithRoundRobin()}, opts...)...)
}

// Process implements Strategy.
func (f *Failover) Process(ctx context.Context, targets []Target, ex *Exchange) error {
	n := len(targets)
	if n == 0 {
		return ErrNoTargets
	}

	limit := f.maxFailover
	if limit < 0 {
		limit = n - 1
	}

	idx := f.start(n)
	for attempt := 0; ; attempt++ {
		err := invoke(ctx, targets[idx], ex)
		if err == nil {
			f.succeeded(idx)
			return nil
		}
		if attempt >= limit || !f.shouldFailover(err) || ctx.Err() != nil {
			return err
		}

		next := f.moveTo((idx+1)%n, n)
		from, to := targetName(targets[idx], idx), targetName(targets[next], next)
		exchangeEvent(f.logger.Debug(), ex).
			Err(err).
			Str("from", from).
			Str("to", to).
			Int("attempt", attempt+1).
			Msg("failing over")
		f.hooks.callOnFailover(ctx, ex, from, to, err)

		ex.SetErr(nil)
		idx = next
	}
}

// start returns the index of the first target to try. In round-robin mode
// the index is claimed, so concurrent dispatches start at different targets.
func (f *Failover) start(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.sticky:
		return f.lastGood % n
	case f.roundRobin:
		idx := f.next % n
		f.next = (idx + 1) % n
		return idx
	default:
		return 0
	}
}

// moveTo records a failover to idx so the next round-robin dispatch starts
// after it.
func (f *Failover) moveTo(idx, n int) int {
	if f.roundRobin {
		f.mu.Lock()
		f.next = (idx + 1) % n
		f.mu.Unlock()
	}
	return idx
}

func (f *Failover) succeeded(idx int) {
	if f.sticky {
		f.mu.Lock()
		f.lastGood = idx
		f.mu.Unlock()
	}
}

func (f *Failover) shouldFailover(err error) bool {
	if len(f.failoverOn) == 0 {
		return true
	}
	t := TypeOf(err)
	for _, want := range f.failoverOn {
		if f.hierarchy.IsA(t, want) {
			return true
		}
	}
	return false
}
