package relay

import (
	"bytes"
	"encoding/json"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Headers is a key-value bag carried with an exchange's message.
type Headers map[string]any

// Properties holds exchange-scoped values that are not part of the message.
type Properties map[string]any

// Cloner is implemented by bodies that know how to deep copy themselves.
// DeepCopy uses it when cloning an exchange body.
type Cloner interface {
	Clone() any
}

// Exchange is the unit of work that flows through the dispatch core. It
// carries a body, headers, properties, and a single error slot.
//
// Body, Headers and Properties are not synchronized; an exchange is owned by
// one dispatch call at a time. The error slot is safe for concurrent use so
// that parallel broadcast can record the first failure.
type Exchange struct {
	Body       any
	Headers    Headers
	Properties Properties

	id       string
	parentID string

	mu  sync.Mutex
	err error
}

// NewExchange creates an exchange with a fresh identity and empty headers.
func NewExchange(body any) *Exchange {
	return &Exchange{
		Body:       body,
		Headers:    make(Headers),
		Properties: make(Properties),
		id:         uuid.NewString(),
	}
}

// ID returns the exchange identity.
func (e *Exchange) ID() string { return e.id }

// CorrelationID returns the ID of the exchange this one was copied from, or
// an empty string for an original exchange.
func (e *Exchange) CorrelationID() string { return e.parentID }

// Err returns the error recorded on the exchange, if any.
func (e *Exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Failed reports whether an error is recorded on the exchange.
func (e *Exchange) Failed() bool { return e.Err() != nil }

// SetErr replaces the recorded error. Pass nil to clear it.
func (e *Exchange) SetErr(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

// SetErrIfAbsent records err only if no error is recorded yet. It reports
// whether err was stored.
func (e *Exchange) SetErrIfAbsent(err error) bool {
	if err == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return false
	}
	e.err = err
	return true
}

// Header returns the header value for key.
func (e *Exchange) Header(key string) (any, bool) {
	v, ok := e.Headers[key]
	return v, ok
}

// SetHeader sets a header, allocating the map if needed.
func (e *Exchange) SetHeader(key string, value any) {
	if e.Headers == nil {
		e.Headers = make(Headers)
	}
	e.Headers[key] = value
}

// Property returns the property value for key.
func (e *Exchange) Property(key string) (any, bool) {
	v, ok := e.Properties[key]
	return v, ok
}

// SetProperty sets a property, allocating the map if needed.
func (e *Exchange) SetProperty(key string, value any) {
	if e.Properties == nil {
		e.Properties = make(Properties)
	}
	e.Properties[key] = value
}

// Copy returns a new exchange with its own identity and its own header and
// property maps. The body reference is shared and the error slot is empty.
func (e *Exchange) Copy() *Exchange {
	return &Exchange{
		Body:       e.Body,
		Headers:    maps.Clone(e.Headers),
		Properties: maps.Clone(e.Properties),
		id:         uuid.NewString(),
		parentID:   e.id,
	}
}

// DeepCopy is like Copy but also clones the body when it is a byte slice, a
// json.RawMessage, or implements Cloner. Other bodies are shared.
func (e *Exchange) DeepCopy() *Exchange {
	c := e.Copy()
	c.Body = cloneBody(e.Body)
	return c
}

func cloneBody(body any) any {
	switch b := body.(type) {
	case Cloner:
		return b.Clone()
	case []byte:
		return bytes.Clone(b)
	case json.RawMessage:
		return json.RawMessage(bytes.Clone(b))
	default:
		return body
	}
}
