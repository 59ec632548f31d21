// Package relay is the dispatch core of a message-routing system.
//
// Given an in-flight unit of work (an Exchange) and a set of candidate
// destinations (Targets), relay decides which path to take, executes it and
// applies failure-recovery policy. Connectors, data formats and route
// definitions live elsewhere; relay only needs an exchange, some targets,
// errors tagged with a type, and a completion callback.
//
// # Quick Start
//
// Balance exchanges across two targets, failing over when one of them errors:
//
//	lb, err := relay.NewLoadBalancer(relay.NewRoundRobinFailover(), primary, backup)
//	if err != nil {
//	    return err
//	}
//
//	d := relay.NewDispatcher(lb)
//
//	ex := relay.NewExchange([]byte(`{"order_id": "42"}`))
//	d.Dispatch(ctx, ex, func(doneSync bool) {
//	    if err := ex.Err(); err != nil {
//	        log.Printf("dispatch failed: %v", err)
//	    }
//	})
//
// # Exchanges
//
// An Exchange carries a body, headers, properties and a single error slot.
// Target errors never escape a Dispatcher; they are stored on the exchange
// and must be checked after the callback fires.
//
// Broadcast hands each target its own copy. A CopyStrategy decides how:
//
//   - ShallowCopy: new identity and headers, shared body (the default)
//   - DeepCopy: also clones []byte, json.RawMessage and Cloner bodies
//   - NoCopy: the original exchange, for single-path forwarding
//
// # Strategies
//
// A LoadBalancer owns an ordered target list and delegates selection to a
// Strategy:
//
//   - Topic: every target in order, each with its own copy; stops at the
//     first failure. WithParallel runs targets concurrently.
//   - WeightedRandom: random selection that honours per-cycle weights.
//   - WeightedRoundRobin: in-order selection that honours per-cycle weights.
//   - Failover: tries targets in order until one succeeds, bounded by the
//     number of targets unless WithMaxFailoverAttempts says otherwise.
//   - RoundRobin, Random: plain single-target selection.
//   - Sticky: the same correlation key always goes to the same target.
//
// Weighted strategies take one positive ratio per target:
//
//	s, err := relay.NewWeightedRandom([]int{3, 2, 1})
//	if err != nil {
//	    return err
//	}
//	lb, err := relay.NewLoadBalancer(s, x, y, z) // ErrRatioMismatch unless 3 targets
//
// # Error Policies
//
// Errors are typed with an ErrorType from an explicit Hierarchy built at
// startup:
//
//	h := relay.NewHierarchy().
//	    MustRegister("io", relay.AnyError).
//	    MustRegister("timeout", "io")
//
//	err := relay.Errorf("timeout", "read %s: %w", addr, cause)
//
// Policies are registered in order and resolved by specificity: an exact
// type match wins, otherwise the closest registered ancestor, and ties go
// to the policy registered first. Policies for unrelated types never match.
// A nil result means "no policy"; the ErrorHandler then applies its default.
//
//	policies := relay.NewPolicies(
//	    &relay.ErrorPolicy{Types: []relay.ErrorType{"io"}, Redelivery: relay.RedeliveryPolicy{MaximumRedeliveries: 3}},
//	    &relay.ErrorPolicy{Types: []relay.ErrorType{"timeout"}, Handled: true, DeadLetter: dlq},
//	)
//	handler, err := relay.NewErrorHandler(lb, relay.NewResolver(h), policies)
//
// # Hooks and Logging
//
// Hooks provide observability without coupling to a metrics system:
//
//	d := relay.NewDispatcher(handler,
//	    relay.WithOnFailure(func(ctx context.Context, ex *relay.Exchange, err error, d time.Duration) {
//	        alerts.Notify(ex.ID(), err)
//	    }),
//	    relay.WithLogger(relay.NewConsoleLogger(os.Stderr, "orders")),
//	)
//
// Components log with zerolog and are silent unless WithLogger is given.
//
// # Configuration
//
// LoadConfig reads a TOML description of a balancer and its error policies;
// Config.Build wires it to named targets.
//
// # Thread Safety
//
// Strategies, load balancers, error handlers and dispatchers are safe for
// concurrent use. An exchange belongs to one dispatch at a time.
package relay
