package relay

import (
	"fmt"
	"math"
	"sync"
)

// PolicyKey identifies a registered error policy. Two keys are equal only
// when both the error type and the predicate identifier are equal.
type PolicyKey struct {
	Type ErrorType
	When string
}

// ErrorPolicy is the recovery configuration selected for a failed exchange.
type ErrorPolicy struct {
	// Types are the error types this policy handles.
	Types []ErrorType

	// When optionally narrows the policy to exchanges matching the predicate.
	When Predicate

	// WhenID identifies When in the policy key. If When is set and WhenID is
	// empty, the policy's address is used, so two policies never share a key
	// by accident.
	WhenID string

	// Handled clears the error from the exchange once redeliveries are exhausted.
	Handled bool

	// Continued clears the error and lets processing continue as if it
	// never happened.
	Continued bool

	// Redelivery controls how many times and how often a failing target is retried.
	Redelivery RedeliveryPolicy

	// RetryWhile, when set, decides redelivery instead of MaximumRedeliveries.
	RetryWhile Predicate

	// OnRedelivery is invoked before every redelivery attempt.
	OnRedelivery Target

	// DeadLetter receives the exchange after redeliveries are exhausted.
	// Delivery to it does not clear the error: unless Handled or Continued
	// is also set, the handler still returns the original error.
	DeadLetter Target
}

func (p *ErrorPolicy) whenID() string {
	if p.WhenID != "" || p.When == nil {
		return p.WhenID
	}
	return fmt.Sprintf("%p", p)
}

// Policies is an insertion-ordered registry of error policies. Resolution
// ties are broken by insertion order, so the order of Add calls matters.
type Policies struct {
	mu      sync.RWMutex
	keys    []PolicyKey
	entries map[PolicyKey]*ErrorPolicy
}

// NewPolicies creates a registry, adding the given policies in order.
func NewPolicies(policies ...*ErrorPolicy) *Policies {
	p := &Policies{entries: make(map[PolicyKey]*ErrorPolicy)}
	for _, policy := range policies {
		p.Add(policy)
	}
	return p
}

// Add registers policy under one key per error type it lists. A policy
// without types handles AnyError.
func (p *Policies) Add(policy *ErrorPolicy) {
	types := policy.Types
	if len(types) == 0 {
		types = []ErrorType{AnyError}
	}
	id := policy.whenID()
	for _, t := range types {
		p.Put(PolicyKey{Type: t, When: id}, policy)
	}
}

// Put registers policy under key. Replacing an existing key keeps its position.
func (p *Policies) Put(key PolicyKey, policy *ErrorPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.entries[key] = policy
}

// Get returns the policy registered under key.
func (p *Policies) Get(key PolicyKey) (*ErrorPolicy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	policy, ok := p.entries[key]
	return policy, ok
}

// Len returns the number of registered keys.
func (p *Policies) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

type policyEntry struct {
	key    PolicyKey
	policy *ErrorPolicy
}

// snapshot returns the entries in insertion order.
func (p *Policies) snapshot() []policyEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]policyEntry, len(p.keys))
	for i, k := range p.keys {
		out[i] = policyEntry{key: k, policy: p.entries[k]}
	}
	return out
}

// PolicyResolver picks the error policy for a failed exchange. A nil result
// means no policy applies and the caller should fall back to its default.
type PolicyResolver interface {
	Resolve(policies *Policies, ex *Exchange, err error) *ErrorPolicy
}

// ResolverFunc adapts a function to the PolicyResolver interface.
type ResolverFunc func(policies *Policies, ex *Exchange, err error) *ErrorPolicy

// Resolve implements PolicyResolver.
func (f ResolverFunc) Resolve(policies *Policies, ex *Exchange, err error) *ErrorPolicy {
	return f(policies, ex, err)
}

// DefaultResolver selects the most specific policy for an error type.
//
// For each typed cause in the error's chain, innermost first:
//  1. Policies whose type is not the error's type or one of its ancestors
//     never qualify, nor do policies whose When predicate does not match.
//  2. A policy registered for exactly the error's type wins immediately.
//  3. Otherwise the policy registered for the closest ancestor wins; ties
//     go to the policy registered first.
//
// The first cause that yields a policy decides the result.
type DefaultResolver struct {
	hierarchy *Hierarchy
}

// NewResolver creates a DefaultResolver over h. A nil h is an empty hierarchy.
func NewResolver(h *Hierarchy) *DefaultResolver {
	if h == nil {
		h = NewHierarchy()
	}
	return &DefaultResolver{hierarchy: h}
}

// Resolve implements PolicyResolver.
func (r *DefaultResolver) Resolve(policies *Policies, ex *Exchange, err error) *ErrorPolicy {
	if policies == nil || err == nil {
		return nil
	}
	entries := policies.snapshot()
	for _, t := range typeChain(err) {
		if policy := r.resolveType(entries, ex, t); policy != nil {
			return policy
		}
	}
	return nil
}

func (r *DefaultResolver) resolveType(entries []policyEntry, ex *Exchange, thrown ErrorType) *ErrorPolicy {
	targetLevel := r.hierarchy.Level(thrown)

	var candidate *ErrorPolicy
	best := math.MaxInt
	for _, e := range entries {
		if !r.hierarchy.IsA(thrown, e.key.Type) {
			continue
		}
		if e.policy.When != nil && (ex == nil || !e.policy.When.Matches(ex)) {
			continue
		}
		if e.key.Type == thrown {
			return e.policy
		}
		if diff := targetLevel - r.hierarchy.Level(e.key.Type); diff < best {
			best = diff
			candidate = e.policy
		}
	}
	return candidate
}
