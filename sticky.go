package relay

import (
	"context"
	"sync"
)

// Sticky sends exchanges with the same correlation key to the same target.
// The first exchange for a key picks its target round-robin. Exchanges for
// which the expression yields nothing are balanced round-robin and not
// remembered.
type Sticky struct {
	expr Expression

	mu   sync.Mutex
	rr   RoundRobin
	keys map[string]int
}

// NewSticky creates a sticky strategy keyed by expr.
func NewSticky(expr Expression) *Sticky {
	return &Sticky{expr: expr, keys: make(map[string]int)}
}

// Process implements Strategy.
func (s *Sticky) Process(ctx context.Context, targets []Target, ex *Exchange) error {
	return processChosen(ctx, s, targets, ex)
}

// Forget drops the remembered target for key.
func (s *Sticky) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

func (s *Sticky) choose(targets []Target, ex *Exchange) (int, error) {
	key, ok := s.expr.Evaluate(ex)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !ok {
		return s.rr.next(len(targets)), nil
	}
	// A remembered index past the end means targets were removed; pick again.
	if i, found := s.keys[key]; found && i < len(targets) {
		return i, nil
	}
	i := s.rr.next(len(targets))
	s.keys[key] = i
	return i, nil
}
