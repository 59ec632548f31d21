package relay

import (
	"fmt"
	"reflect"
)

// Predicate evaluates a condition against an exchange. Predicates guard
// error policies (When) and redelivery (RetryWhile).
type Predicate interface {
	Matches(ex *Exchange) bool
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(ex *Exchange) bool

// Matches implements Predicate.
func (f PredicateFunc) Matches(ex *Exchange) bool { return f(ex) }

// HasHeader returns a Predicate that matches when all headers are present.
func HasHeader(keys ...string) Predicate {
	return hasHeader{keys: keys}
}

type hasHeader struct {
	keys []string
}

func (p hasHeader) Matches(ex *Exchange) bool {
	for _, k := range p.keys {
		if _, ok := ex.Header(k); !ok {
			return false
		}
	}
	return true
}

// HeaderEquals returns a Predicate that matches when the header exists and
// its value equals value.
func HeaderEquals(key string, value any) Predicate {
	return headerEquals{key: key, value: value}
}

type headerEquals struct {
	key   string
	value any
}

func (p headerEquals) Matches(ex *Exchange) bool {
	v, ok := ex.Header(p.key)
	return ok && reflect.DeepEqual(v, p.value)
}

// BodyHasFields returns a Predicate that matches when the JSON body has all paths.
func BodyHasFields(paths ...string) Predicate {
	return bodyHasFields{inspector: JSONInspector(), paths: paths}
}

type bodyHasFields struct {
	inspector Inspector
	paths     []string
}

func (p bodyHasFields) Matches(ex *Exchange) bool {
	v, err := p.inspector.Inspect(ex.Body)
	if err != nil {
		return false
	}
	for _, path := range p.paths {
		if !v.HasField(path) {
			return false
		}
	}
	return true
}

// BodyFieldEquals returns a Predicate that matches when the JSON body path
// exists and equals the given string value.
func BodyFieldEquals(path, value string) Predicate {
	return bodyFieldEquals{inspector: JSONInspector(), path: path, value: value}
}

type bodyFieldEquals struct {
	inspector Inspector
	path      string
	value     string
}

func (p bodyFieldEquals) Matches(ex *Exchange) bool {
	v, err := p.inspector.Inspect(ex.Body)
	if err != nil {
		return false
	}
	s, ok := v.GetString(p.path)
	return ok && s == p.value
}

// And returns a Predicate that matches when all predicates match.
func And(ps ...Predicate) Predicate {
	return and{ps: ps}
}

type and struct {
	ps []Predicate
}

func (p and) Matches(ex *Exchange) bool {
	for _, pred := range p.ps {
		if !pred.Matches(ex) {
			return false
		}
	}
	return true
}

// Or returns a Predicate that matches when any predicate matches.
func Or(ps ...Predicate) Predicate {
	return or{ps: ps}
}

type or struct {
	ps []Predicate
}

func (p or) Matches(ex *Exchange) bool {
	for _, pred := range p.ps {
		if pred.Matches(ex) {
			return true
		}
	}
	return false
}

// Not negates a Predicate.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(ex *Exchange) bool { return !p.Matches(ex) })
}

// Expression extracts a value from an exchange, for example a correlation key.
type Expression interface {
	Evaluate(ex *Exchange) (string, bool)
}

// ExpressionFunc adapts a function to the Expression interface.
type ExpressionFunc func(ex *Exchange) (string, bool)

// Evaluate implements Expression.
func (f ExpressionFunc) Evaluate(ex *Exchange) (string, bool) { return f(ex) }

// HeaderExpression evaluates to the header value formatted as a string.
func HeaderExpression(key string) Expression {
	return ExpressionFunc(func(ex *Exchange) (string, bool) {
		v, ok := ex.Header(key)
		if !ok || v == nil {
			return "", false
		}
		if s, ok := v.(string); ok {
			return s, true
		}
		return fmt.Sprint(v), true
	})
}

// BodyExpression evaluates to the raw JSON value at path. String values are
// returned without quotes.
func BodyExpression(path string) Expression {
	insp := JSONInspector()
	return ExpressionFunc(func(ex *Exchange) (string, bool) {
		v, err := insp.Inspect(ex.Body)
		if err != nil {
			return "", false
		}
		if s, ok := v.GetString(path); ok {
			return s, true
		}
		b, ok := v.GetBytes(path)
		if !ok {
			return "", false
		}
		return string(b), true
	})
}
