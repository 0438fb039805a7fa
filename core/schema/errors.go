package schema

import (
	"fmt"
	"strings"
)

// FieldError describes a validation failure for one field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// LoadError is returned by Load when one or more fields fail validation.
// It carries field-level detail for the client.
type LoadError struct {
	Schema string       `json:"schema,omitempty"`
	Fields []FieldError `json:"fields"`
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("invalid document for schema %s: %s", e.Schema, strings.Join(msgs, "; "))
}

// HasField returns true if the load error contains a failure for the
// named field.
func (e *LoadError) HasField(name string) bool {
	for _, f := range e.Fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

// AsLoadError returns the error as *LoadError if it is one.
func AsLoadError(err error) (*LoadError, bool) {
	le, ok := err.(*LoadError)
	return le, ok
}
