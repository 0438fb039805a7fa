package filter_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudio/core/filter"
	"github.com/relabs-tech/crudio/core/model"
	"github.com/relabs-tech/crudio/core/schema"
)

func baseSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("person", []schema.Field{
		{Name: "d", Type: schema.FieldDateTime},
		{Name: "i", Type: schema.FieldInteger},
		{Name: "f", Type: schema.FieldFloat},
		{Name: "e", Type: schema.FieldEnum, Enum: []string{"red", "green"}},
		{Name: "name", Type: schema.FieldString},
	})
	require.NoError(t, err)
	return s
}

func personModel(t *testing.T) *model.Model {
	t.Helper()
	return model.MustNew("person", []model.Column{
		{Name: "d", Type: model.TypeDateTime},
		{Name: "i", Type: model.TypeInteger},
		{Name: "f", Type: model.TypeFloat},
		{Name: "e", Type: model.TypeEnum, Enum: []string{"red", "green"}},
		{Name: "name", Type: model.TypeString},
		{Name: "age", Type: model.TypeInteger},
	})
}

func TestDeriveFieldSet(t *testing.T) {
	derived := filter.Derive(baseSchema(t))

	var names []string
	for _, f := range derived.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"d__from", "d__to",
		"i", "i__min", "i__max",
		"f__min", "f__max",
		"e", "e__in",
		"name",
		"page", "page_size",
	}, names)

	// the original temporal and float equality fields are gone
	_, ok := derived.Field("d")
	assert.False(t, ok)
	_, ok = derived.Field("f")
	assert.False(t, ok)

	// every derived field is optional and input-only
	for _, f := range derived.Fields() {
		assert.False(t, f.Required, f.Name)
		assert.True(t, f.LoadOnly, f.Name)
	}
}

func TestDeriveRejectsReservedFieldNames(t *testing.T) {
	s, err := schema.New("clash", []schema.Field{
		{Name: "page", Type: schema.FieldInteger},
	})
	require.NoError(t, err)
	assert.PanicsWithValue(t,
		"cannot derive filter schema for clash: field name page is reserved for pagination",
		func() { filter.Derive(s) })

	s, err = schema.New("clash2", []schema.Field{
		{Name: "page_size", Type: schema.FieldInteger},
	})
	require.NoError(t, err)
	assert.Panics(t, func() { filter.Derive(s) })
}

func TestDeriveIsMemoized(t *testing.T) {
	base := baseSchema(t)
	assert.Same(t, filter.Derive(base), filter.Derive(base))
}

func TestDeriveStrictUnknownField(t *testing.T) {
	derived := filter.Derive(baseSchema(t))
	_, err := derived.LoadQuery(url.Values{"nmae": []string{"typo"}})
	require.Error(t, err)
	le, ok := schema.AsLoadError(err)
	require.True(t, ok)
	assert.True(t, le.HasField("nmae"))
}

func TestDeriveDropsNilValues(t *testing.T) {
	derived := filter.Derive(baseSchema(t))
	out, err := derived.Load(map[string]interface{}{
		"name": nil,
		"i":    int64(25),
	}, schema.LoadOptions{Partial: true})
	require.NoError(t, err)
	_, ok := out["name"]
	assert.False(t, ok)
	assert.Equal(t, int64(25), out["i"])
}

func TestPaginationValidation(t *testing.T) {
	derived := filter.Derive(baseSchema(t))

	_, err := derived.LoadQuery(url.Values{"page": []string{"0"}})
	require.Error(t, err)
	assert.True(t, filter.IsPaginationError(err))

	_, err = derived.LoadQuery(url.Values{"page_size": []string{"0"}})
	require.Error(t, err)
	assert.True(t, filter.IsPaginationError(err))

	// a plain filter error is not a pagination error
	_, err = derived.LoadQuery(url.Values{"nmae": []string{"x"}})
	require.Error(t, err)
	assert.False(t, filter.IsPaginationError(err))

	out, err := derived.LoadQuery(url.Values{"page": []string{"2"}, "page_size": []string{"10"}})
	require.NoError(t, err)
	page, pageSize := filter.Pagination(out, 100)
	assert.Equal(t, 2, page)
	assert.Equal(t, 10, pageSize)

	page, pageSize = filter.Pagination(map[string]interface{}{}, 100)
	assert.Equal(t, 1, page)
	assert.Equal(t, 100, pageSize)
}

func TestCompileSuffixMapping(t *testing.T) {
	m := personModel(t)
	predicates, err := filter.Compile(map[string]interface{}{
		"age__min": int64(18),
		"age__max": int64(65),
	}, m)
	require.NoError(t, err)
	require.Len(t, predicates, 2)
	assert.Contains(t, predicates, filter.Predicate{Column: "age", Op: filter.OpGE, Value: int64(18)})
	assert.Contains(t, predicates, filter.Predicate{Column: "age", Op: filter.OpLE, Value: int64(65)})
}

func TestCompileSkipsNilAndPagination(t *testing.T) {
	m := personModel(t)
	predicates, err := filter.Compile(map[string]interface{}{
		"name":      nil,
		"age":       int64(25),
		"page":      int64(3),
		"page_size": int64(10),
	}, m)
	require.NoError(t, err)
	require.Len(t, predicates, 1)
	assert.Equal(t, filter.Predicate{Column: "age", Op: filter.OpEQ, Value: int64(25)}, predicates[0])
}

func TestCompileRejectsUnknownColumn(t *testing.T) {
	m := personModel(t)
	_, err := filter.Compile(map[string]interface{}{"nonexistent": "x"}, m)
	require.Error(t, err)
	ife, ok := err.(*filter.InvalidFieldError)
	require.True(t, ok)
	assert.Equal(t, "nonexistent", ife.Field)
	assert.Contains(t, err.Error(), "nonexistent")
	assert.Contains(t, err.Error(), "age")
	assert.Contains(t, err.Error(), "name")
}

func TestCompileRejectsIncompatibleSuffix(t *testing.T) {
	m := personModel(t)
	cases := []map[string]interface{}{
		{"name__min": "a"},                   // range on a string
		{"name__in": []interface{}{"a"}},     // set membership on a string
		{"d": "2024-04-01T10:00:00Z"},        // equality on a datetime
		{"f": 4.2},                           // equality on a float
		{"age__in": []interface{}{int64(1)}}, // set membership on an integer
		{"e__min": "red"},                    // range on an enum
	}
	for _, c := range cases {
		_, err := filter.Compile(c, m)
		require.Error(t, err, c)
		_, ok := err.(*filter.InvalidFieldError)
		assert.True(t, ok, c)
	}

	// the forms the synthesizer produces pass
	_, err := filter.Compile(map[string]interface{}{
		"d__from": "2024-04-01T10:00:00Z",
		"f__min":  1.0,
		"e__in":   []interface{}{"red"},
		"name":    "a",
	}, m)
	require.NoError(t, err)
}

func TestCompileDeduplicates(t *testing.T) {
	m := personModel(t)
	predicates, err := filter.Compile(map[string]interface{}{
		"age__min": int64(18),
		"i__min":   int64(18),
	}, m)
	require.NoError(t, err)
	assert.Len(t, predicates, 2)

	predicates, err = filter.Compile(map[string]interface{}{"age": int64(5)}, m)
	require.NoError(t, err)
	assert.Len(t, predicates, 1)
}

// every field name the synthesizer can produce must be accepted by the
// compiler when given a valid value
func TestRoundTripSynthesizerCompiler(t *testing.T) {
	base := baseSchema(t)
	m := personModel(t)
	derived := filter.Derive(base)

	sample := map[schema.FieldType]string{
		schema.FieldDateTime: "2024-04-01T10:00:00Z",
		schema.FieldDate:     "2024-04-01",
		schema.FieldInteger:  "42",
		schema.FieldFloat:    "4.2",
		schema.FieldDecimal:  "4.2",
		schema.FieldEnum:     "red",
		schema.FieldString:   "x",
		schema.FieldBoolean:  "true",
		schema.FieldList:     "red,green",
	}

	for _, f := range derived.Fields() {
		query := url.Values{f.Name: []string{sample[f.Type]}}
		values, err := derived.LoadQuery(query)
		require.NoError(t, err, f.Name)

		_, err = filter.Compile(values, m)
		require.NoError(t, err, f.Name)
	}
}

func TestSQLClause(t *testing.T) {
	predicates := []filter.Predicate{
		{Column: "age", Op: filter.OpGE, Value: int64(18)},
		{Column: "e", Op: filter.OpIn, Value: []interface{}{"red", "green"}},
	}
	clause, parameters := filter.SQLClause(predicates, 4)
	assert.Equal(t, `AND ("age" >= $5) AND ("e" = ANY($6)) `, clause)
	require.Len(t, parameters, 2)
	assert.Equal(t, int64(18), parameters[0])
}
