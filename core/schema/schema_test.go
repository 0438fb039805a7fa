package schema_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudio/core/model"
	"github.com/relabs-tech/crudio/core/schema"
)

func articleSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("article", []schema.Field{
		{Name: "name", Type: schema.FieldString, Required: true},
		{Name: "price", Type: schema.FieldFloat, Required: true},
		{Name: "stock", Type: schema.FieldInteger},
		{Name: "published_at", Type: schema.FieldDateTime},
		{Name: "state", Type: schema.FieldEnum, Enum: []string{"draft", "published"}},
	})
	require.NoError(t, err)
	return s
}

func TestLoadConvertsAndValidates(t *testing.T) {
	s := articleSchema(t)
	out, err := s.Load(map[string]interface{}{
		"name":         "Test",
		"price":        29.99,
		"stock":        float64(7), // JSON numbers arrive as float64
		"published_at": "2024-04-01T10:00:00Z",
		"state":        "draft",
	}, schema.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Test", out["name"])
	assert.Equal(t, 29.99, out["price"])
	assert.Equal(t, int64(7), out["stock"])
	assert.Equal(t, time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC), out["published_at"])
}

func TestLoadRejectsUnknownField(t *testing.T) {
	s := articleSchema(t)
	_, err := s.Load(map[string]interface{}{
		"name":  "Test",
		"price": 1.0,
		"nmae":  "typo",
	}, schema.LoadOptions{})
	require.Error(t, err)
	le, ok := schema.AsLoadError(err)
	require.True(t, ok)
	assert.True(t, le.HasField("nmae"))
}

func TestLoadMissingRequired(t *testing.T) {
	s := articleSchema(t)
	_, err := s.Load(map[string]interface{}{"name": "Test"}, schema.LoadOptions{})
	require.Error(t, err)
	le, _ := schema.AsLoadError(err)
	assert.True(t, le.HasField("price"))

	// partial load suppresses the required check
	out, err := s.Load(map[string]interface{}{"name": "Test"}, schema.LoadOptions{Partial: true})
	require.NoError(t, err)
	assert.Equal(t, "Test", out["name"])
}

func TestLoadEnumValidation(t *testing.T) {
	s := articleSchema(t)
	_, err := s.Load(map[string]interface{}{
		"name": "Test", "price": 1.0, "state": "deleted",
	}, schema.LoadOptions{})
	require.Error(t, err)
	le, _ := schema.AsLoadError(err)
	assert.True(t, le.HasField("state"))
}

func TestLoadAbsentStaysAbsent(t *testing.T) {
	s := articleSchema(t)
	out, err := s.Load(map[string]interface{}{"name": "Test", "price": 1.0}, schema.LoadOptions{})
	require.NoError(t, err)
	_, ok := out["stock"]
	assert.False(t, ok)
}

func TestPartialSchema(t *testing.T) {
	s := articleSchema(t).Partial()
	out, err := s.Load(map[string]interface{}{"price": 39.99}, schema.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 39.99, out["price"])
}

func TestLoadQuery(t *testing.T) {
	s, err := schema.New("filterish", []schema.Field{
		{Name: "stock", Type: schema.FieldInteger},
		{Name: "state", Type: schema.FieldList,
			Elem: &schema.Field{Type: schema.FieldEnum, Enum: []string{"draft", "published"}}},
	})
	require.NoError(t, err)

	out, err := s.LoadQuery(url.Values{"stock": []string{"7"}, "state": []string{"draft,published"}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), out["stock"])
	assert.Equal(t, []interface{}{"draft", "published"}, out["state"])

	// a repeated scalar parameter is an error
	_, err = s.LoadQuery(url.Values{"stock": []string{"7", "8"}})
	require.Error(t, err)
}

func TestDumpFormatsTimes(t *testing.T) {
	s := articleSchema(t)
	when := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	out := s.Dump(map[string]interface{}{"name": "Test", "published_at": when})
	assert.Equal(t, "2024-04-01T10:00:00Z", out["published_at"])
	assert.Equal(t, "Test", out["name"])
}

func TestForModelIsCached(t *testing.T) {
	m := model.MustNew("gadget", []model.Column{
		{Name: "name", Type: model.TypeString},
		{Name: "weight", Type: model.TypeFloat},
	})
	s1 := schema.ForModel(m)
	s2 := schema.ForModel(m)
	assert.Same(t, s1, s2)

	_, ok := s1.Field("name")
	assert.True(t, ok)
	_, ok = s1.Field("weight")
	assert.True(t, ok)
}

func TestValidator(t *testing.T) {
	schemaJSON := `{
		"$id": "https://example.com/schemas/article.json",
		"type": "object",
		"required": ["name"],
		"properties": { "name": { "type": "string" } }
	}`
	v, err := schema.NewValidator([]string{schemaJSON}, nil)
	require.NoError(t, err)
	assert.True(t, v.HasSchema("https://example.com/schemas/article.json"))
	assert.NoError(t, v.ValidateString(`{"name":"x"}`, "https://example.com/schemas/article.json"))
	assert.Error(t, v.ValidateString(`{"name":1}`, "https://example.com/schemas/article.json"))
}
