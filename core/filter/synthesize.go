// Package filter derives query-filter schemas from serialization schemas
// and compiles validated filter parameters into SQL predicates.
//
// The two halves agree by construction: every field name Derive can
// produce is accepted by Compile, and Compile rejects everything else.
package filter

import (
	"fmt"
	"sync"

	"github.com/relabs-tech/crudio/core/schema"
)

// filter field suffixes. The double underscore separates the base field
// name from the comparison operator.
const (
	SuffixFrom = "__from"
	SuffixTo   = "__to"
	SuffixMin  = "__min"
	SuffixMax  = "__max"
	SuffixIn   = "__in"
)

// pagination fields, always part of a derived filter schema
const (
	FieldPage     = "page"
	FieldPageSize = "page_size"
)

var (
	deriveMutex sync.Mutex
	deriveCache = map[*schema.Schema]*schema.Schema{}
)

// Derive transforms a serialization schema into a schema suitable for
// query-string validation. Every derived field is optional and
// input-only. Per original field:
//
//   - date and datetime fields are replaced by <name>__from and
//     <name>__to range fields
//   - integer fields keep their equality field and gain <name>__min and
//     <name>__max
//   - float and decimal fields lose their equality field (equality on
//     floating values is not meaningful) and gain <name>__min and
//     <name>__max
//   - enum fields keep their equality field and gain <name>__in for set
//     membership
//   - nested, list and raw fields are not filterable and are dropped
//   - all other fields are retained, coerced optional and input-only
//
// The pagination fields page and page_size are always added; both must
// be positive integers. The base schema must not declare fields with
// these names, Derive panics on such a schema.
// After load, fields with nil values are dropped,
// so "not specified" and "explicitly null" collapse to the same
// omitted-key representation.
//
// Derivation is deterministic and memoized: the same base schema always
// yields the same derived schema instance. The cache only ever grows.
func Derive(base *schema.Schema) *schema.Schema {
	deriveMutex.Lock()
	defer deriveMutex.Unlock()
	if derived, ok := deriveCache[base]; ok {
		return derived
	}

	for _, f := range base.Fields() {
		if f.Name == FieldPage || f.Name == FieldPageSize {
			panic(fmt.Sprintf("cannot derive filter schema for %s: field name %s is reserved for pagination",
				base.Name(), f.Name))
		}
	}

	var fields []schema.Field
	add := func(f schema.Field) {
		f.Required = false
		f.DumpOnly = false
		f.LoadOnly = true
		fields = append(fields, f)
	}

	for _, f := range base.Fields() {
		switch f.Type {
		case schema.FieldDate, schema.FieldDateTime:
			add(schema.Field{Name: f.Name + SuffixFrom, Type: f.Type})
			add(schema.Field{Name: f.Name + SuffixTo, Type: f.Type})

		case schema.FieldInteger:
			add(schema.Field{Name: f.Name, Type: f.Type})
			add(schema.Field{Name: f.Name + SuffixMin, Type: f.Type})
			add(schema.Field{Name: f.Name + SuffixMax, Type: f.Type})

		case schema.FieldFloat, schema.FieldDecimal:
			add(schema.Field{Name: f.Name + SuffixMin, Type: f.Type})
			add(schema.Field{Name: f.Name + SuffixMax, Type: f.Type})

		case schema.FieldEnum:
			add(schema.Field{Name: f.Name, Type: f.Type, Enum: f.Enum})
			add(schema.Field{Name: f.Name + SuffixIn, Type: schema.FieldList,
				Elem: &schema.Field{Type: schema.FieldEnum, Enum: f.Enum}})

		case schema.FieldNested, schema.FieldList, schema.FieldRaw:
			// not filterable

		default:
			add(f)
		}
	}

	add(schema.Field{Name: FieldPage, Type: schema.FieldInteger})
	add(schema.Field{Name: FieldPageSize, Type: schema.FieldInteger})

	derived := schema.MustNew(base.Name()+"__filter", fields,
		schema.WithPostLoad(dropNils),
		schema.WithPostLoad(checkPagination),
	)
	deriveCache[base] = derived
	return derived
}

// dropNils removes fields whose resolved value is nil
func dropNils(values map[string]interface{}) (map[string]interface{}, error) {
	for key, value := range values {
		if value == nil {
			delete(values, key)
		}
	}
	return values, nil
}

// checkPagination enforces that page and page_size are positive
func checkPagination(values map[string]interface{}) (map[string]interface{}, error) {
	le := &schema.LoadError{}
	for _, key := range []string{FieldPage, FieldPageSize} {
		if value, ok := values[key]; ok {
			if n, isInt := value.(int64); isInt && n < 1 {
				le.Fields = append(le.Fields, schema.FieldError{Field: key, Message: "out of range"})
			}
		}
	}
	if len(le.Fields) > 0 {
		return nil, le
	}
	return values, nil
}

// Pagination extracts page and page_size from a loaded filter document.
// Absent values fall back to page 1 and the passed default size.
func Pagination(values map[string]interface{}, defaultPageSize int) (page, pageSize int) {
	page, pageSize = 1, defaultPageSize
	if n, ok := values[FieldPage].(int64); ok {
		page = int(n)
	}
	if n, ok := values[FieldPageSize].(int64); ok {
		pageSize = int(n)
	}
	return
}

// IsPaginationError returns true if the load error only concerns the
// pagination fields. The backend answers those with 400 rather than 422.
func IsPaginationError(err error) bool {
	le, ok := schema.AsLoadError(err)
	if !ok || len(le.Fields) == 0 {
		return false
	}
	for _, f := range le.Fields {
		if f.Field != FieldPage && f.Field != FieldPageSize {
			return false
		}
	}
	return true
}
