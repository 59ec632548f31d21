package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
)

type JSONInspectorSuite struct {
	suite.Suite
	inspector Inspector
}

func (s *JSONInspectorSuite) SetupTest() {
	s.inspector = JSONInspector()
}

func TestJSONInspectorSuite(t *testing.T) {
	suite.Run(t, new(JSONInspectorSuite))
}

func (s *JSONInspectorSuite) TestInspectsBytes() {
	view, err := s.inspector.Inspect([]byte(`{"source": "my.app"}`))

	s.Require().NoError(err)
	s.Assert().True(view.HasField("source"))
}

func (s *JSONInspectorSuite) TestViewIsDetachedFromBody() {
	body := []byte(`{"id":"a"}`)
	view, err := s.inspector.Inspect(body)
	s.Require().NoError(err)

	body[7] = 'b'

	id, ok := view.GetString("id")
	s.Require().True(ok)
	s.Assert().Equal("a", id)
}

func (s *JSONInspectorSuite) TestInspectsRawMessage() {
	view, err := s.inspector.Inspect(json.RawMessage(`{"source": "my.app"}`))

	s.Require().NoError(err)
	s.Assert().True(view.HasField("source"))
}

func (s *JSONInspectorSuite) TestInspectsString() {
	view, err := s.inspector.Inspect(`{"source": "my.app"}`)

	s.Require().NoError(err)
	s.Assert().True(view.HasField("source"))
}

func (s *JSONInspectorSuite) TestReturnsErrorForInvalidJSON() {
	_, err := s.inspector.Inspect([]byte(`{not valid json`))

	s.Assert().ErrorIs(err, ErrInvalidJSON)
}

func (s *JSONInspectorSuite) TestReturnsErrorForEmptyInput() {
	_, err := s.inspector.Inspect([]byte{})

	s.Assert().ErrorIs(err, ErrInvalidJSON)
}

func (s *JSONInspectorSuite) TestReturnsErrorForUnsupportedBody() {
	_, err := s.inspector.Inspect(map[string]string{"source": "my.app"})

	s.Assert().ErrorIs(err, ErrUnsupportedBody)
}

func (s *JSONInspectorSuite) TestHandlesArrayAtRoot() {
	view, err := s.inspector.Inspect([]byte(`[{"id": 1}, {"id": 2}]`))

	s.Require().NoError(err)
	s.Assert().True(view.HasField("0.id"))
	s.Assert().True(view.HasField("1.id"))
	s.Assert().False(view.HasField("2.id"))
}

type JSONViewSuite struct {
	suite.Suite
	view View
}

func (s *JSONViewSuite) SetupTest() {
	raw := []byte(`{
		"source": "my.app",
		"count": 42,
		"active": true,
		"detail": {
			"userId": "123",
			"nested": {"deep": "value"}
		}
	}`)

	var err error
	s.view, err = JSONInspector().Inspect(raw)
	s.Require().NoError(err)
}

func TestJSONViewSuite(t *testing.T) {
	suite.Run(t, new(JSONViewSuite))
}

func (s *JSONViewSuite) TestHasField() {
	tests := map[string]struct {
		path   string
		exists bool
	}{
		"source":                {"source", true},
		"detail":                {"detail", true},
		"detail.userId":         {"detail.userId", true},
		"detail.nested.deep":    {"detail.nested.deep", true},
		"missing":               {"missing", false},
		"detail.missing":        {"detail.missing", false},
		"detail.nested.missing": {"detail.nested.missing", false},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			s.Assert().Equal(tt.exists, s.view.HasField(tt.path))
		})
	}
}

func (s *JSONViewSuite) TestGetString() {
	val, ok := s.view.GetString("detail.userId")
	s.Require().True(ok)
	s.Assert().Equal("123", val)

	_, ok = s.view.GetString("count")
	s.Assert().False(ok)

	_, ok = s.view.GetString("active")
	s.Assert().False(ok)

	_, ok = s.view.GetString("missing")
	s.Assert().False(ok)
}

func (s *JSONViewSuite) TestGetBytes() {
	val, ok := s.view.GetBytes("source")
	s.Require().True(ok)
	s.Assert().Equal(`"my.app"`, string(val))

	val, ok = s.view.GetBytes("count")
	s.Require().True(ok)
	s.Assert().Equal("42", string(val))

	_, ok = s.view.GetBytes("missing")
	s.Assert().False(ok)
}
