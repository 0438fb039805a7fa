package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/relabs-tech/crudio/core/model"
)

// Op is a predicate comparison operator
type Op string

// the supported comparison operators
const (
	OpEQ Op = "="
	OpGE Op = ">="
	OpLE Op = "<="
	OpIn Op = "in"
)

// Predicate is a single boolean condition against one model column.
// Predicates are independent and compose conjunctively.
type Predicate struct {
	Column string
	Op     Op
	Value  interface{}
}

// InvalidFieldError is returned by Compile when a filter name does not
// resolve to a column of the target model. The message names the field
// and lists the valid column names, so probing for non-column
// attributes fails loudly.
type InvalidFieldError struct {
	Field string
	Valid []string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("unknown filter field '%s', valid fields are: %s",
		e.Field, strings.Join(e.Valid, ", "))
}

// Compile converts a validated filter document into a set of predicates
// against the given model. Nil values and the pagination fields emit no
// predicate. The suffix selects the operator; the remaining base name
// must be a column of the model and the suffix must apply to the
// column's type. Duplicate predicates are collapsed.
func Compile(values map[string]interface{}, m *model.Model) ([]Predicate, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var predicates []Predicate
	seen := map[string]bool{}
	for _, key := range keys {
		value := values[key]
		if value == nil {
			continue
		}
		if key == FieldPage || key == FieldPageSize {
			continue
		}

		column, suffix, op := splitSuffix(key)
		c, ok := m.Column(column)
		if !ok || !suffixMatchesColumn(suffix, c.Type) {
			return nil, &InvalidFieldError{Field: key, Valid: m.ColumnNames()}
		}

		dedup := fmt.Sprintf("%s|%s|%v", column, op, value)
		if seen[dedup] {
			continue
		}
		seen[dedup] = true
		predicates = append(predicates, Predicate{Column: column, Op: op, Value: value})
	}
	return predicates, nil
}

func splitSuffix(key string) (column string, suffix string, op Op) {
	switch {
	case strings.HasSuffix(key, SuffixFrom):
		return strings.TrimSuffix(key, SuffixFrom), SuffixFrom, OpGE
	case strings.HasSuffix(key, SuffixTo):
		return strings.TrimSuffix(key, SuffixTo), SuffixTo, OpLE
	case strings.HasSuffix(key, SuffixMin):
		return strings.TrimSuffix(key, SuffixMin), SuffixMin, OpGE
	case strings.HasSuffix(key, SuffixMax):
		return strings.TrimSuffix(key, SuffixMax), SuffixMax, OpLE
	case strings.HasSuffix(key, SuffixIn):
		return strings.TrimSuffix(key, SuffixIn), SuffixIn, OpIn
	default:
		return key, "", OpEQ
	}
}

// suffixMatchesColumn reports whether a filter suffix applies to a
// column type. The rules mirror the field set Derive produces: range
// suffixes for temporal columns, min/max for numeric columns, set
// membership for enums. Equality is not available on temporal and
// floating-point columns, those only support ranges.
func suffixMatchesColumn(suffix string, t model.ColumnType) bool {
	switch suffix {
	case SuffixFrom, SuffixTo:
		return t == model.TypeDate || t == model.TypeDateTime
	case SuffixMin, SuffixMax:
		return t == model.TypeInteger || t == model.TypeFloat || t == model.TypeDecimal
	case SuffixIn:
		return t == model.TypeEnum
	}
	switch t {
	case model.TypeDate, model.TypeDateTime, model.TypeFloat, model.TypeDecimal, model.TypeJSON:
		return false
	}
	return true
}

// SQLClause renders the predicates into a parameterized SQL fragment of
// the form "AND (a >= $3) AND (b = ANY($4)) ". Parameter numbering
// starts after offset. Set-membership predicates are rendered with ANY
// and a pq array parameter.
func SQLClause(predicates []Predicate, offset int) (string, []interface{}) {
	var clause string
	parameters := make([]interface{}, 0, len(predicates))
	for _, p := range predicates {
		n := offset + len(parameters) + 1
		if p.Op == OpIn {
			clause += fmt.Sprintf("AND (\"%s\" = ANY($%d)) ", p.Column, n)
			parameters = append(parameters, arrayParameter(p.Value))
			continue
		}
		clause += fmt.Sprintf("AND (\"%s\" %s $%d) ", p.Column, p.Op, n)
		parameters = append(parameters, p.Value)
	}
	return clause, parameters
}

// arrayParameter converts a loaded list value into a driver-compatible
// array parameter
func arrayParameter(value interface{}) interface{} {
	list, ok := value.([]interface{})
	if !ok {
		return pq.Array(value)
	}
	strs := make([]string, 0, len(list))
	ints := make([]int64, 0, len(list))
	times := make([]time.Time, 0, len(list))
	for _, elem := range list {
		switch v := elem.(type) {
		case string:
			strs = append(strs, v)
		case int64:
			ints = append(ints, v)
		case time.Time:
			times = append(times, v)
		}
	}
	switch {
	case len(strs) == len(list):
		return pq.Array(strs)
	case len(ints) == len(list):
		return pq.Array(ints)
	case len(times) == len(list):
		return pq.Array(times)
	}
	return pq.Array(list)
}
