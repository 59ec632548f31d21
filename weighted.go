package relay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// runtimeRatio is the remaining weight of one target in the current cycle.
type runtimeRatio struct {
	position int
	weight   int
}

// ratioSet is the working set of runtime ratios. Its states are loaded
// (some weight left) and exhausted (no weight left, or no entries); reload
// moves it back to loaded with the configured weights.
type ratioSet struct {
	ratios  []int
	entries []runtimeRatio
}

func newRatioSet(ratios []int) (ratioSet, error) {
	if len(ratios) == 0 {
		return ratioSet{}, fmt.Errorf("%w: empty list", ErrInvalidRatio)
	}
	for i, r := range ratios {
		if r <= 0 {
			return ratioSet{}, fmt.Errorf("%w: ratio %d at position %d must be positive", ErrInvalidRatio, r, i)
		}
	}
	return ratioSet{ratios: slices.Clone(ratios)}, nil
}

func (s *ratioSet) reload() {
	s.entries = s.entries[:0]
	for i, r := range s.ratios {
		s.entries = append(s.entries, runtimeRatio{position: i, weight: r})
	}
}

func (s *ratioSet) exhausted() bool {
	for _, e := range s.entries {
		if e.weight > 0 {
			return false
		}
	}
	return true
}

func (s *ratioSet) validate(n int) error {
	if n != len(s.ratios) {
		return fmt.Errorf("%w: %d targets, %d ratios", ErrRatioMismatch, n, len(s.ratios))
	}
	return nil
}

// WeightedRandom picks targets at random while honouring a distribution
// ratio per cycle: with ratios [3,2,1], every six consecutive selections of
// a cycle choose the targets 3, 2 and 1 times.
//
// Each draw picks a uniformly random entry among those left in the working
// set, not one weighted by remaining weight, so short runs can lean toward
// some targets. Only the per-cycle totals are exact.
type WeightedRandom struct {
	mu  sync.Mutex
	set ratioSet
	rng *rand.Rand
}

// NewWeightedRandom creates a weighted random strategy. Every ratio must be
// positive; the balancer must have exactly len(ratios) targets.
func NewWeightedRandom(ratios []int, opts ...Option) (*WeightedRandom, error) {
	set, err := newRatioSet(ratios)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &WeightedRandom{set: set, rng: o.newRand()}, nil
}

// Ratios returns the configured distribution ratios.
func (w *WeightedRandom) Ratios() []int { return slices.Clone(w.set.ratios) }

// Process implements Strategy.
func (w *WeightedRandom) Process(ctx context.Context, targets []Target, ex *Exchange) error {
	return processChosen(ctx, w, targets, ex)
}

func (w *WeightedRandom) validate(n int) error { return w.set.validate(n) }

func (w *WeightedRandom) choose(targets []Target, _ *Exchange) (int, error) {
	if err := w.validate(len(targets)); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		if len(w.set.entries) == 0 {
			w.set.reload()
		}
		i := w.rng.IntN(len(w.set.entries))
		e := &w.set.entries[i]
		if e.weight > 0 {
			e.weight--
			return e.position, nil
		}
		w.set.entries = slices.Delete(w.set.entries, i, i+1)
	}
}

// WeightedRoundRobin walks the targets in order, skipping those whose
// weight for the current cycle is used up, and starts a new cycle when all
// weights are spent.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	set     ratioSet
	counter int
}

// NewWeightedRoundRobin creates a weighted round-robin strategy. Every ratio
// must be positive; the balancer must have exactly len(ratios) targets.
func NewWeightedRoundRobin(ratios []int) (*WeightedRoundRobin, error) {
	set, err := newRatioSet(ratios)
	if err != nil {
		return nil, err
	}
	return &WeightedRoundRobin{set: set}, nil
}

// Ratios returns the configured distribution ratios.
func (w *WeightedRoundRobin) Ratios() []int { return slices.Clone(w.set.ratios) }

// Process implements Strategy.
func (w *WeightedRoundRobin) Process(ctx context.Context, targets []Target, ex *Exchange) error {
	return processChosen(ctx, w, targets, ex)
}

func (w *WeightedRoundRobin) validate(n int) error { return w.set.validate(n) }

func (w *WeightedRoundRobin) choose(targets []Target, _ *Exchange) (int, error) {
	if err := w.validate(len(targets)); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.set.exhausted() {
		w.set.reload()
		w.counter = 0
	}
	for {
		if w.counter >= len(w.set.entries) {
			w.counter = 0
		}
		e := &w.set.entries[w.counter]
		w.counter++
		if e.weight > 0 {
			e.weight--
			return e.position, nil
		}
	}
}

// ParseRatios parses a delimited list of positive weights such as "4,2,1".
// An empty delimiter means ",".
func ParseRatios(s, delimiter string) ([]int, error) {
	if delimiter == "" {
		delimiter = ","
	}
	var ratios []int
	for part := range strings.SplitSeq(s, delimiter) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidRatio, part, err)
		}
		if r <= 0 {
			return nil, fmt.Errorf("%w: ratio %d must be positive", ErrInvalidRatio, r)
		}
		ratios = append(ratios, r)
	}
	if len(ratios) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidRatio)
	}
	return ratios, nil
}
