package relay

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Redelivery defaults.
const (
	DefaultRedeliveryDelay          = time.Second
	DefaultMaximumRedeliveryDelay   = time.Minute
	DefaultBackOffMultiplier        = 2.0
	DefaultCollisionAvoidanceFactor = 0.15
)

// RedeliveryPolicy controls how a failing exchange is retried against the
// same target. The zero value performs no redelivery.
type RedeliveryPolicy struct {
	// MaximumRedeliveries is the number of retries after the first attempt.
	// Zero disables redelivery; a negative value retries until the context
	// is done.
	MaximumRedeliveries int

	// RedeliveryDelay is the delay before the first redelivery.
	RedeliveryDelay time.Duration

	// MaximumRedeliveryDelay caps every computed delay. Zero means no cap.
	MaximumRedeliveryDelay time.Duration

	// UseExponentialBackOff multiplies the previous delay by BackOffMultiplier.
	// It has no effect unless BackOffMultiplier is greater than 1.
	UseExponentialBackOff bool
	BackOffMultiplier     float64

	// UseCollisionAvoidance randomly shifts each delay by up to
	// ±CollisionAvoidanceFactor of itself.
	UseCollisionAvoidance    bool
	CollisionAvoidanceFactor float64

	// DelayPattern overrides the other delay settings. It is a list of
	// "count:delay" groups separated by ";", where delay is a Go duration or a
	// number of milliseconds, e.g. "0:100ms;3:1s;5:5s". The delay of the last
	// group whose count is not greater than the redelivery counter applies.
	DelayPattern string
}

// DefaultRedeliveryPolicy returns a policy with the standard delays and no
// redeliveries.
func DefaultRedeliveryPolicy() RedeliveryPolicy {
	return RedeliveryPolicy{
		RedeliveryDelay:          DefaultRedeliveryDelay,
		MaximumRedeliveryDelay:   DefaultMaximumRedeliveryDelay,
		BackOffMultiplier:        DefaultBackOffMultiplier,
		CollisionAvoidanceFactor: DefaultCollisionAvoidanceFactor,
	}
}

// Validate checks the delay pattern and numeric settings.
func (p RedeliveryPolicy) Validate() error {
	if p.RedeliveryDelay < 0 || p.MaximumRedeliveryDelay < 0 {
		return fmt.Errorf("redelivery delay must not be negative")
	}
	if p.CollisionAvoidanceFactor < 0 || p.CollisionAvoidanceFactor > 1 {
		return fmt.Errorf("collision avoidance factor %v out of range [0,1]", p.CollisionAvoidanceFactor)
	}
	if p.DelayPattern != "" {
		if _, err := compileDelayPattern(p.DelayPattern); err != nil {
			return err
		}
	}
	return nil
}

// ShouldRedeliver reports whether attempt number counter (1-based) may run.
// A RetryWhile predicate, when given, decides on its own.
func (p RedeliveryPolicy) ShouldRedeliver(ex *Exchange, counter int, retryWhile Predicate) bool {
	if retryWhile != nil {
		return retryWhile.Matches(ex)
	}
	if p.MaximumRedeliveries < 0 {
		return true
	}
	return counter <= p.MaximumRedeliveries
}

// NextDelay returns the delay before redelivery number counter, given the
// delay used before the previous one (zero for the first). A nil rng uses
// the package-level source. A DelayPattern that does not parse yields no
// delay; Validate reports it.
func (p RedeliveryPolicy) NextDelay(previous time.Duration, counter int, rng *rand.Rand) time.Duration {
	if p.DelayPattern != "" {
		steps, err := compileDelayPattern(p.DelayPattern)
		if err != nil {
			return 0
		}
		return delayFromPattern(steps, counter)
	}

	var delay float64
	switch {
	case previous == 0:
		delay = float64(p.RedeliveryDelay)
	case p.UseExponentialBackOff && p.BackOffMultiplier > 1:
		delay = math.Round(p.BackOffMultiplier * float64(previous))
	default:
		delay = float64(previous)
	}

	if p.UseCollisionAvoidance {
		sign, frac := 1.0, 0.0
		if rng != nil {
			if rng.IntN(2) == 0 {
				sign = -1
			}
			frac = rng.Float64()
		} else {
			if rand.IntN(2) == 0 {
				sign = -1
			}
			frac = rand.Float64()
		}
		delay += delay * sign * p.CollisionAvoidanceFactor * frac
	}

	if p.MaximumRedeliveryDelay > 0 && delay > float64(p.MaximumRedeliveryDelay) {
		delay = float64(p.MaximumRedeliveryDelay)
	}
	return time.Duration(delay)
}

type delayStep struct {
	count int
	delay time.Duration
}

// delayPatterns caches parsed delay patterns by their text.
var delayPatterns sync.Map

func compileDelayPattern(pattern string) ([]delayStep, error) {
	if steps, ok := delayPatterns.Load(pattern); ok {
		return steps.([]delayStep), nil
	}
	steps, err := parseDelayPattern(pattern)
	if err != nil {
		return nil, err
	}
	delayPatterns.Store(pattern, steps)
	return steps, nil
}

func parseDelayPattern(pattern string) ([]delayStep, error) {
	var steps []delayStep
	for group := range strings.SplitSeq(pattern, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		countStr, delayStr, ok := strings.Cut(group, ":")
		if !ok {
			return nil, fmt.Errorf("%w: group %q has no ':'", ErrInvalidDelayPattern, group)
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return nil, fmt.Errorf("%w: count %q: %w", ErrInvalidDelayPattern, countStr, err)
		}
		delay, err := parseDelay(strings.TrimSpace(delayStr))
		if err != nil {
			return nil, fmt.Errorf("%w: delay %q: %w", ErrInvalidDelayPattern, delayStr, err)
		}
		steps = append(steps, delayStep{count: count, delay: delay})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidDelayPattern)
	}
	return steps, nil
}

// parseDelay accepts a Go duration or a bare number of milliseconds.
func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func delayFromPattern(steps []delayStep, counter int) time.Duration {
	var delay time.Duration
	for _, s := range steps {
		if s.count > counter {
			break
		}
		delay = s.delay
	}
	return delay
}
