package relay

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Strategy selects one or more targets for an exchange and invokes them.
//
// Process runs synchronously and returns the error to record on the
// exchange. Strategies keep their selection state internally and are safe
// for concurrent use; a stateful strategy instance belongs to a single
// LoadBalancer.
type Strategy interface {
	Process(ctx context.Context, targets []Target, ex *Exchange) error
}

// validator is implemented by strategies that constrain the number of targets.
type validator interface {
	validate(n int) error
}

// LoadBalancer owns an ordered list of targets and dispatches exchanges to
// them with a Strategy.
//
// LoadBalancer is itself a Target and an AsyncTarget, so balancers can be
// nested or wrapped by an ErrorHandler or Dispatcher.
type LoadBalancer struct {
	strategy Strategy

	mu      sync.RWMutex
	targets []Target
}

// NewLoadBalancer creates a balancer over targets. It fails when the
// strategy cannot serve that many targets, for example when a weighted
// strategy's ratio count differs from len(targets).
func NewLoadBalancer(s Strategy, targets ...Target) (*LoadBalancer, error) {
	if v, ok := s.(validator); ok {
		if err := v.validate(len(targets)); err != nil {
			return nil, err
		}
	}
	return &LoadBalancer{
		strategy: s,
		targets:  slices.Clone(targets),
	}, nil
}

// Add appends a target.
func (lb *LoadBalancer) Add(t Target) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.targets = append(lb.targets, t)
}

// Remove removes the first target whose name is name. Targets without a
// Name method are named by position ("target-0", "target-1", ...).
func (lb *LoadBalancer) Remove(name string) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for i, t := range lb.targets {
		if targetName(t, i) == name {
			lb.targets = slices.Delete(lb.targets, i, i+1)
			return true
		}
	}
	return false
}

// Targets returns a copy of the current target list.
func (lb *LoadBalancer) Targets() []Target {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return slices.Clone(lb.targets)
}

// Strategy returns the balancer's strategy.
func (lb *LoadBalancer) Strategy() Strategy { return lb.strategy }

// Process runs the strategy over a snapshot of the targets and returns its error.
func (lb *LoadBalancer) Process(ctx context.Context, ex *Exchange) error {
	targets := lb.Targets()
	if v, ok := lb.strategy.(validator); ok {
		if err := v.validate(len(targets)); err != nil {
			return err
		}
	}
	return lb.strategy.Process(ctx, targets, ex)
}

// ProcessAsync selects and dispatches, records any error on the exchange
// and calls done exactly once. The built-in strategies never suspend, so it
// always returns true after calling done(true).
func (lb *LoadBalancer) ProcessAsync(ctx context.Context, ex *Exchange, done Callback) bool {
	if err := invoke(ctx, lb, ex); err != nil {
		ex.SetErr(err)
	}
	if done != nil {
		done(true)
	}
	return true
}

// chooser picks the index of a single target for an exchange.
type chooser interface {
	choose(targets []Target, ex *Exchange) (int, error)
}

// processChosen dispatches ex to the single target picked by c.
func processChosen(ctx context.Context, c chooser, targets []Target, ex *Exchange) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}
	i, err := c.choose(targets, ex)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(targets) {
		return fmt.Errorf("selected target %d out of range [0,%d)", i, len(targets))
	}
	return invoke(ctx, targets[i], ex)
}
