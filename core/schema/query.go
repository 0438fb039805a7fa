package schema

import (
	"net/url"
	"strings"
)

// LoadQuery converts and validates URL query parameters against the
// schema. Every value arrives as a string and is coerced by field type.
// List-typed fields accept repeated parameters as well as a single
// comma-separated parameter; for all other fields a repeated parameter
// is an error.
func (s *Schema) LoadQuery(query url.Values) (map[string]interface{}, error) {
	le := &LoadError{Schema: s.name}
	in := make(map[string]interface{}, len(query))

	for key, array := range query {
		f, ok := s.Field(key)
		if !ok {
			le.Fields = append(le.Fields, FieldError{Field: key, Message: "unknown field"})
			continue
		}
		if f.Type == FieldList {
			var elems []interface{}
			for _, value := range array {
				for _, part := range strings.Split(value, ",") {
					elems = append(elems, part)
				}
			}
			in[key] = elems
			continue
		}
		if len(array) > 1 {
			le.Fields = append(le.Fields, FieldError{Field: key, Message: "illegal parameter array"})
			continue
		}
		in[key] = array[0]
	}

	if len(le.Fields) > 0 {
		return nil, le
	}
	return s.Load(in, LoadOptions{Partial: true})
}
