// Package schema provides declarative field schemas for request
// validation and response serialization.
//
// A Schema is built once from a list of field descriptors and is
// immutable afterwards. Loading a document against a schema converts and
// validates every value; unknown fields are always rejected so that a
// typo in a request never goes unnoticed.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType is the declared type of a schema field
type FieldType string

// all supported field types
const (
	FieldString   FieldType = "string"
	FieldInteger  FieldType = "integer"
	FieldFloat    FieldType = "float"
	FieldDecimal  FieldType = "decimal"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
	FieldEnum     FieldType = "enum"
	FieldNested   FieldType = "nested"
	FieldList     FieldType = "list"
	FieldRaw      FieldType = "raw"
)

// DateFormat is the wire format for date fields
const DateFormat = "2006-01-02"

// Field describes one named, typed field of a schema
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// LoadOnly fields are accepted on input but never dumped
	LoadOnly bool
	// DumpOnly fields appear in output only and are rejected on input
	DumpOnly bool
	// Enum holds the valid values for FieldEnum
	Enum []string
	// Nested holds the element schema for FieldNested
	Nested *Schema
	// Elem holds the element descriptor for FieldList
	Elem *Field
}

// PostLoadFunc is a hook that runs over the loaded document, in
// registration order, after all fields were converted and validated.
type PostLoadFunc func(map[string]interface{}) (map[string]interface{}, error)

// Schema is an immutable, ordered set of fields
type Schema struct {
	name     string
	fields   []Field
	byName   map[string]int
	postLoad []PostLoadFunc
}

// Option configures a schema during construction
type Option func(*Schema)

// WithPostLoad attaches a post-load hook
func WithPostLoad(fn PostLoadFunc) Option {
	return func(s *Schema) { s.postLoad = append(s.postLoad, fn) }
}

// New builds a schema from a field-descriptor list. Field order is
// preserved; it determines iteration order everywhere, which keeps
// derived schemas deterministic.
func New(name string, fields []Field, options ...Option) (*Schema, error) {
	s := &Schema{
		name:   name,
		fields: fields,
		byName: make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if len(f.Name) == 0 {
			return nil, fmt.Errorf("schema %s: field #%d has no name", name, i)
		}
		if _, ok := s.byName[f.Name]; ok {
			return nil, fmt.Errorf("schema %s: duplicate field %s", name, f.Name)
		}
		if f.Type == FieldEnum && len(f.Enum) == 0 {
			return nil, fmt.Errorf("schema %s: enum field %s declares no values", name, f.Name)
		}
		if f.Type == FieldNested && f.Nested == nil {
			return nil, fmt.Errorf("schema %s: nested field %s declares no schema", name, f.Name)
		}
		if f.Type == FieldList && f.Elem == nil && f.Nested == nil {
			return nil, fmt.Errorf("schema %s: list field %s declares no element", name, f.Name)
		}
		s.byName[f.Name] = i
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// MustNew is like New but panics on error. Intended for static schema
// declarations in service code.
func MustNew(name string, fields []Field, options ...Option) *Schema {
	s, err := New(name, fields, options...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name
func (s *Schema) Name() string { return s.name }

// Fields returns the fields in declaration order
func (s *Schema) Fields() []Field { return s.fields }

// Field looks up a field by name
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Partial returns a derived schema where no field is required and no
// field can construct a full instance. It is the auto-derived argument
// schema for partial updates.
func (s *Schema) Partial() *Schema {
	fields := make([]Field, len(s.fields))
	copy(fields, s.fields)
	for i := range fields {
		fields[i].Required = false
	}
	derived, _ := New(s.name+"__partial", fields)
	derived.postLoad = s.postLoad
	return derived
}

// LoadOptions controls Load behavior
type LoadOptions struct {
	// Partial suppresses required-field checks, for partial updates
	Partial bool
}

// Load converts and validates the given document against the schema.
// Unknown and output-only fields are rejected with field-level detail.
// Fields absent from the input stay absent from the output; a field that
// is present with a nil value stays nil (post-load hooks may drop it).
func (s *Schema) Load(in map[string]interface{}, opts LoadOptions) (map[string]interface{}, error) {
	le := &LoadError{Schema: s.name}
	out := make(map[string]interface{}, len(in))

	for key, value := range in {
		f, ok := s.Field(key)
		if !ok {
			le.Fields = append(le.Fields, FieldError{Field: key, Message: "unknown field"})
			continue
		}
		if f.DumpOnly {
			le.Fields = append(le.Fields, FieldError{Field: key, Message: "field is output-only"})
			continue
		}
		if value == nil {
			out[key] = nil
			continue
		}
		converted, err := convert(f, value)
		if err != nil {
			le.Fields = append(le.Fields, FieldError{Field: key, Message: err.Error()})
			continue
		}
		out[key] = converted
	}

	if !opts.Partial {
		for _, f := range s.fields {
			if !f.Required {
				continue
			}
			if v, ok := out[f.Name]; !ok || v == nil {
				if !le.HasField(f.Name) {
					le.Fields = append(le.Fields, FieldError{Field: f.Name, Message: "missing required field"})
				}
			}
		}
	}

	if len(le.Fields) > 0 {
		return nil, le
	}

	var err error
	for _, hook := range s.postLoad {
		out, err = hook(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// convert coerces a single value to the field's type
func convert(f Field, value interface{}) (interface{}, error) {
	switch f.Type {
	case FieldRaw:
		return value, nil

	case FieldString:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("not a string")

	case FieldInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("not an integer")
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("not an integer")
			}
			return n, nil
		}
		return nil, fmt.Errorf("not an integer")

	case FieldFloat, FieldDecimal:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("not a number")
			}
			return n, nil
		}
		return nil, fmt.Errorf("not a number")

	case FieldBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("not a boolean")
			}
			return b, nil
		}
		return nil, fmt.Errorf("not a boolean")

	case FieldDate:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(DateFormat, v)
			if err != nil {
				return nil, fmt.Errorf("not a date, must be %s", DateFormat)
			}
			return t, nil
		}
		return nil, fmt.Errorf("not a date")

	case FieldDateTime:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("not a datetime, must be RFC3339")
			}
			return t, nil
		}
		return nil, fmt.Errorf("not a datetime")

	case FieldEnum:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("not a string")
		}
		for _, valid := range f.Enum {
			if s == valid {
				return s, nil
			}
		}
		return nil, fmt.Errorf("must be one of %s", strings.Join(f.Enum, ", "))

	case FieldNested:
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("not an object")
		}
		return f.Nested.Load(m, LoadOptions{})

	case FieldList:
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("not a list")
		}
		out := make([]interface{}, len(list))
		for i, elem := range list {
			var converted interface{}
			var err error
			if f.Nested != nil {
				converted, err = convert(Field{Type: FieldNested, Nested: f.Nested}, elem)
			} else {
				converted, err = convert(*f.Elem, elem)
			}
			if err != nil {
				return nil, fmt.Errorf("element %d: %s", i, err)
			}
			out[i] = converted
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported field type %s", f.Type)
}

// Dump serializes the schema's fields from the given document into a
// JSON-ready map. Load-only fields are omitted; times are formatted to
// their wire representation. Values of fields absent from the document
// are omitted.
func (s *Schema) Dump(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(s.fields))
	for _, f := range s.fields {
		if f.LoadOnly {
			continue
		}
		value, ok := values[f.Name]
		if !ok {
			continue
		}
		if t, isTime := value.(time.Time); isTime {
			if f.Type == FieldDate {
				out[f.Name] = t.Format(DateFormat)
			} else {
				out[f.Name] = t.UTC().Format(time.RFC3339Nano)
			}
			continue
		}
		out[f.Name] = value
	}
	return out
}
