package relay

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrorType identifies a kind of error in a Hierarchy.
type ErrorType string

// AnyError is the root of every Hierarchy. Untyped errors have this type.
const AnyError ErrorType = "error"

// Typed is implemented by errors that carry an ErrorType.
type Typed interface {
	ErrorType() ErrorType
}

// TypedError attaches an ErrorType to an error.
type TypedError struct {
	Type ErrorType
	Err  error
}

// NewError returns an error of type t with the given message.
func NewError(t ErrorType, msg string) error {
	return &TypedError{Type: t, Err: errors.New(msg)}
}

// Errorf returns an error of type t formatted like fmt.Errorf, so %w wraps a cause.
func Errorf(t ErrorType, format string, args ...any) error {
	return &TypedError{Type: t, Err: fmt.Errorf(format, args...)}
}

// WithType tags err with t. It returns nil for a nil err.
func WithType(t ErrorType, err error) error {
	if err == nil {
		return nil
	}
	return &TypedError{Type: t, Err: err}
}

func (e *TypedError) Error() string {
	if e.Err == nil {
		return string(e.Type)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TypedError) Unwrap() error { return e.Err }

// ErrorType implements Typed.
func (e *TypedError) ErrorType() ErrorType { return e.Type }

// TypeOf returns the type of the outermost typed error in err's chain, or
// AnyError when nothing in the chain is typed.
func TypeOf(err error) ErrorType {
	var t Typed
	if errors.As(err, &t) {
		return t.ErrorType()
	}
	return AnyError
}

// typeChain returns the types found in err's wrap tree, innermost cause
// first. An untyped error yields a single AnyError.
func typeChain(err error) []ErrorType {
	var outer []ErrorType
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if t, ok := e.(Typed); ok {
			outer = append(outer, t.ErrorType())
		}
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	if len(outer) == 0 {
		return []ErrorType{AnyError}
	}
	chain := make([]ErrorType, len(outer))
	for i, t := range outer {
		chain[len(outer)-1-i] = t
	}
	return chain
}

// Hierarchy is an explicit error type lattice: a parent table with ancestor
// distances precomputed at registration. Build it at startup and share it.
//
// Types that were never registered are treated as direct children of AnyError.
type Hierarchy struct {
	mu sync.RWMutex
	// ancestors[t][a] is the number of steps from t up to a, including t itself at 0.
	ancestors map[ErrorType]map[ErrorType]int
	parents   map[ErrorType]ErrorType
}

// NewHierarchy returns a hierarchy that contains only AnyError.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		ancestors: map[ErrorType]map[ErrorType]int{AnyError: {AnyError: 0}},
		parents:   make(map[ErrorType]ErrorType),
	}
}

// Register adds t as a child of parent. The parent must already be
// registered, which also rules out cycles.
func (h *Hierarchy) Register(t, parent ErrorType) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.ancestors[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateErrorType, t)
	}
	up, ok := h.ancestors[parent]
	if !ok {
		return fmt.Errorf("%w: parent %s of %s", ErrUnknownErrorType, parent, t)
	}

	dist := make(map[ErrorType]int, len(up)+1)
	for a, d := range up {
		dist[a] = d + 1
	}
	dist[t] = 0
	h.ancestors[t] = dist
	h.parents[t] = parent
	return nil
}

// MustRegister is like Register but panics on error. It returns h so
// registrations can be chained at startup.
func (h *Hierarchy) MustRegister(t, parent ErrorType) *Hierarchy {
	if err := h.Register(t, parent); err != nil {
		panic(err)
	}
	return h
}

// Known reports whether t was registered (AnyError is always known).
func (h *Hierarchy) Known(t ErrorType) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.ancestors[t]
	return ok
}

// Parent returns the parent of t. AnyError has no parent.
func (h *Hierarchy) Parent(t ErrorType) (ErrorType, bool) {
	if t == AnyError {
		return "", false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p, ok := h.parents[t]; ok {
		return p, true
	}
	return AnyError, true
}

// Level returns the depth of t below AnyError: 0 for AnyError, 1 for its
// direct children, and so on.
func (h *Hierarchy) Level(t ErrorType) int {
	return h.lookup(t)[AnyError]
}

// IsA reports whether ancestor is an ancestor of, or identical to, t.
func (h *Hierarchy) IsA(t, ancestor ErrorType) bool {
	_, ok := h.Distance(t, ancestor)
	return ok
}

// Distance returns the number of steps from t up to ancestor, and false
// when ancestor is not an ancestor of t (or t itself).
func (h *Hierarchy) Distance(t, ancestor ErrorType) (int, bool) {
	d, ok := h.lookup(t)[ancestor]
	return d, ok
}

// lookup returns the ancestor table for t. The returned map must not be modified.
func (h *Hierarchy) lookup(t ErrorType) map[ErrorType]int {
	h.mu.RLock()
	dist, ok := h.ancestors[t]
	h.mu.RUnlock()
	if ok {
		return dist
	}
	return map[ErrorType]int{t: 0, AnyError: 1}
}

// Types returns every registered type, including AnyError, mapped to its parent.
func (h *Hierarchy) Types() map[ErrorType]ErrorType {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := maps.Clone(h.parents)
	out[AnyError] = ""
	return out
}
