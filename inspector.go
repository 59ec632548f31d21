package relay

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when the body is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// ErrUnsupportedBody is returned when an inspector cannot read the body type.
var ErrUnsupportedBody = errors.New("unsupported body type")

// Inspector examines an exchange body and returns a View for field queries.
// Different inspectors handle different formats (JSON, protobuf, etc.).
type Inspector interface {
	Inspect(body any) (View, error)
}

// View provides format-agnostic field access for body predicates and
// correlation expressions.
type View interface {
	// HasField returns true if the path exists in the body.
	HasField(path string) bool

	// GetString returns the string value at path, or false if not found
	// or not a string.
	GetString(path string) (string, bool)

	// GetBytes returns the raw bytes at path, or false if not found.
	// For JSON, this returns the raw JSON value (including quotes for strings).
	GetBytes(path string) ([]byte, bool)
}

// JSONInspector returns an Inspector that uses gjson for field access. It
// reads []byte, json.RawMessage and string bodies.
func JSONInspector() Inspector {
	return jsonInspector{}
}

type jsonInspector struct{}

func (jsonInspector) Inspect(body any) (View, error) {
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	case json.RawMessage:
		raw = b
	case string:
		raw = []byte(b)
	default:
		return nil, ErrUnsupportedBody
	}
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	return jsonView{body: gjson.ParseBytes(raw)}, nil
}

// jsonView answers field queries against an exchange body that Inspect has
// already validated. Predicates and correlation expressions evaluate
// several paths per exchange, so the body is parsed once here.
type jsonView struct {
	body gjson.Result
}

func (v jsonView) field(path string) (gjson.Result, bool) {
	r := v.body.Get(path)
	return r, r.Exists()
}

func (v jsonView) HasField(path string) bool {
	_, ok := v.field(path)
	return ok
}

// GetString only reports JSON strings; numbers and objects at path do not
// count.
func (v jsonView) GetString(path string) (string, bool) {
	r, ok := v.field(path)
	if !ok || r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

// GetBytes returns the raw JSON at path as it appears in the body.
func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r, ok := v.field(path)
	if !ok {
		return nil, false
	}
	return []byte(r.Raw), true
}
