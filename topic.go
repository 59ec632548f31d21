package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Topic broadcasts an exchange to every target.
//
// Each target receives its own copy made by the copy strategy, so targets
// cannot see each other's header changes. Targets run in list order and
// the first failure stops the broadcast: later targets are not invoked and
// the failure is returned, to be recorded on the original exchange.
//
// With WithParallel(n), up to n targets run at once. No target is started
// after a failure has been observed, the failure reported is the one from
// the lowest-positioned failing target, and invocation order is no longer
// guaranteed.
type Topic struct {
	copy     CopyStrategy
	parallel int
}

// NewTopic creates a broadcast strategy.
func NewTopic(opts ...Option) *Topic {
	o := buildOptions(opts)
	return &Topic{copy: o.copy, parallel: o.parallel}
}

// Process implements Strategy. A topic with no targets succeeds.
func (t *Topic) Process(ctx context.Context, targets []Target, ex *Exchange) error {
	if t.parallel > 1 && len(targets) > 1 {
		return t.processParallel(ctx, targets, ex)
	}
	for _, target := range targets {
		if err := invoke(ctx, target, t.copy.Copy(target, ex)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topic) processParallel(parent context.Context, targets []Target, ex *Exchange) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sem := semaphore.NewWeighted(int64(t.parallel))
	errs := make([]error, len(targets))
	var failed atomic.Bool
	var wg sync.WaitGroup

	started := 0
	for i, target := range targets {
		if failed.Load() || sem.Acquire(ctx, 1) != nil {
			break
		}
		if failed.Load() {
			sem.Release(1)
			break
		}
		c := t.copy.Copy(target, ex)
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := invoke(ctx, target, c); err != nil {
				errs[i] = err
				failed.Store(true)
				cancel()
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if started < len(targets) {
		return parent.Err()
	}
	return nil
}
