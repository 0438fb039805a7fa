package schema

import (
	"sync"

	"github.com/relabs-tech/crudio/core/model"
)

var (
	forModelMutex sync.Mutex
	forModelCache = map[*model.Model]*Schema{}
)

// ForModel returns the default serialization schema for a model, with one
// field per declared column. The schema is generated once per model and
// cached for the lifetime of the process; the cache only ever grows.
func ForModel(m *model.Model) *Schema {
	forModelMutex.Lock()
	defer forModelMutex.Unlock()
	if s, ok := forModelCache[m]; ok {
		return s
	}

	var fields []Field
	if m.IDKind() != model.IDKindUUID {
		// uuid identifiers are generated, all others come from the client
		primary := m.Primary()
		fields = append(fields, Field{
			Name: primary.Name,
			Type: fieldTypeFor(primary.Type),
		})
	}
	for _, c := range m.Declared() {
		fields = append(fields, Field{
			Name:     c.Name,
			Type:     fieldTypeFor(c.Type),
			Enum:     c.Enum,
			Required: !c.Nullable && c.Type != model.TypeJSON,
		})
	}
	s := MustNew(m.This(), fields)
	forModelCache[m] = s
	return s
}

func fieldTypeFor(t model.ColumnType) FieldType {
	switch t {
	case model.TypeInteger:
		return FieldInteger
	case model.TypeFloat:
		return FieldFloat
	case model.TypeDecimal:
		return FieldDecimal
	case model.TypeBoolean:
		return FieldBoolean
	case model.TypeDate:
		return FieldDate
	case model.TypeDateTime:
		return FieldDateTime
	case model.TypeEnum:
		return FieldEnum
	case model.TypeJSON:
		return FieldRaw
	default: // uuid and string columns load as plain strings
		return FieldString
	}
}
