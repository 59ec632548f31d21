package relay

import (
	"context"
	"math/rand/v2"
	"sync"
)

// RoundRobin sends each exchange to the next target in list order,
// wrapping after the last.
type RoundRobin struct {
	mu      sync.Mutex
	counter int
}

// NewRoundRobin creates a round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Process implements Strategy.
func (r *RoundRobin) Process(ctx context.Context, targets []Target, ex *Exchange) error {
	return processChosen(ctx, r, targets, ex)
}

func (r *RoundRobin) choose(targets []Target, _ *Exchange) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next(len(targets)), nil
}

// next must be called with r.mu held.
func (r *RoundRobin) next(n int) int {
	if r.counter >= n {
		r.counter = 0
	}
	i := r.counter
	r.counter++
	return i
}

// Random sends each exchange to a uniformly random target.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a random strategy. WithRand sets the random source.
func NewRandom(opts ...Option) *Random {
	o := buildOptions(opts)
	return &Random{rng: o.newRand()}
}

// Process implements Strategy.
func (r *Random) Process(ctx context.Context, targets []Target, ex *Exchange) error {
	return processChosen(ctx, r, targets, ex)
}

func (r *Random) choose(targets []Target, _ *Exchange) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(len(targets)), nil
}
