// Package model provides descriptors for persisted business objects.
//
// A Model describes one resource: its name, its typed columns and its
// primary identifier. The backend derives database tables, REST routes
// and query filters from these descriptors.
package model

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/crudio/core"
)

// ColumnType is the declared type of a model column
type ColumnType string

// all supported column types
const (
	TypeUUID     ColumnType = "uuid"
	TypeString   ColumnType = "string"
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeDecimal  ColumnType = "decimal"
	TypeBoolean  ColumnType = "boolean"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"
	TypeEnum     ColumnType = "enum"
	TypeJSON     ColumnType = "json"
)

// IDKind classifies the primary identifier for URL path parameters
type IDKind int

// the supported identifier kinds. A character-based primary key is
// treated as an opaque identifier.
const (
	IDKindUUID IDKind = iota
	IDKindInteger
	IDKindOpaque
)

// Column describes one typed column of a model
type Column struct {
	Name     string
	Type     ColumnType
	Enum     []string // valid values for TypeEnum
	Nullable bool
	Unique   bool
}

// Model describes one resource. The resource name is a snake_case
// singular, optionally prefixed with its parent resources, for example
// "article" or "blog/article".
//
// Every model implicitly has a primary identifier column, one uuid
// column per parent resource ("<parent>_id") and the two timestamps
// created_at and updated_at. Models are immutable after construction.
type Model struct {
	resource    string
	this        string
	parents     []string
	displayName string
	primary     Column
	declared    []Column
	columns     []Column // primary, parent ids, declared
	byName      map[string]int
}

// reserved column names, present on every model
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// Option configures a model during construction
type Option func(*Model)

// WithDisplayName overrides the PascalCase display name derived from the
// resource name. The display name is used to derive operation ids.
func WithDisplayName(name string) Option {
	return func(m *Model) { m.displayName = name }
}

// WithPrimary overrides the implicit uuid primary identifier column.
// Only uuid, integer and string columns qualify as primary.
func WithPrimary(c Column) Option {
	return func(m *Model) { m.primary = c }
}

// New creates a model for the given resource with the given declared
// columns. It returns an error for invalid resource or column names;
// the backend turns such errors into configuration panics at
// registration time.
func New(resource string, columns []Column, options ...Option) (*Model, error) {
	if len(resource) == 0 {
		return nil, fmt.Errorf("model resource name must not be empty")
	}
	resources := strings.Split(resource, "/")
	this := resources[len(resources)-1]
	if err := validName(this); err != nil {
		return nil, fmt.Errorf("model %s: %w", resource, err)
	}

	m := &Model{
		resource: resource,
		this:     this,
		parents:  resources[:len(resources)-1],
		primary:  Column{Name: this + "_id", Type: TypeUUID},
		declared: columns,
	}
	for _, option := range options {
		option(m)
	}
	if m.displayName == "" {
		m.displayName = core.SnakeToPascal(this)
	}

	switch m.primary.Type {
	case TypeUUID, TypeInteger, TypeString:
	default:
		return nil, fmt.Errorf("model %s: primary column %s has type %s, must be uuid, integer or string",
			resource, m.primary.Name, m.primary.Type)
	}

	m.columns = append(m.columns, m.primary)
	for _, parent := range m.parents {
		if err := validName(parent); err != nil {
			return nil, fmt.Errorf("model %s: %w", resource, err)
		}
		m.columns = append(m.columns, Column{Name: parent + "_id", Type: TypeUUID})
	}
	for _, c := range columns {
		if err := validName(c.Name); err != nil {
			return nil, fmt.Errorf("model %s: %w", resource, err)
		}
		if c.Name == ColumnCreatedAt || c.Name == ColumnUpdatedAt {
			return nil, fmt.Errorf("model %s: column name %s is reserved", resource, c.Name)
		}
		if c.Type == TypeEnum && len(c.Enum) == 0 {
			return nil, fmt.Errorf("model %s: enum column %s declares no values", resource, c.Name)
		}
		m.columns = append(m.columns, c)
	}

	m.byName = make(map[string]int, len(m.columns))
	for i, c := range m.columns {
		if _, ok := m.byName[c.Name]; ok {
			return nil, fmt.Errorf("model %s: duplicate column %s", resource, c.Name)
		}
		m.byName[c.Name] = i
	}
	return m, nil
}

// MustNew is like New but panics on error. Intended for static model
// declarations in service code.
func MustNew(resource string, columns []Column, options ...Option) *Model {
	m, err := New(resource, columns, options...)
	if err != nil {
		panic(err)
	}
	return m
}

// validName rejects names that would collide with filter suffix parsing
// or break generated SQL.
func validName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("name must not be empty")
	}
	if strings.Contains(name, "__") {
		return fmt.Errorf("name %s must not contain '__'", name)
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("name %s must be snake_case", name)
	}
	return nil
}

// Resource returns the full resource path, e.g. "blog/article"
func (m *Model) Resource() string { return m.resource }

// This returns the last segment of the resource path, e.g. "article"
func (m *Model) This() string { return m.this }

// Parents returns the parent resources of a nested resource
func (m *Model) Parents() []string { return m.parents }

// DisplayName returns the PascalCase display name, e.g. "Article"
func (m *Model) DisplayName() string { return m.displayName }

// Primary returns the primary identifier column
func (m *Model) Primary() Column { return m.primary }

// IDKind returns the URL path-parameter kind of the primary identifier
func (m *Model) IDKind() IDKind {
	switch m.primary.Type {
	case TypeInteger:
		return IDKindInteger
	case TypeString:
		return IDKindOpaque
	default:
		return IDKindUUID
	}
}

// Columns returns all columns in declaration order: the primary
// identifier, the parent identifiers, then the declared columns. The
// timestamps created_at and updated_at are not part of this list.
func (m *Model) Columns() []Column { return m.columns }

// Declared returns the declared columns only
func (m *Model) Declared() []Column { return m.declared }

// Column looks up a column by name
func (m *Model) Column(name string) (Column, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Column{}, false
	}
	return m.columns[i], true
}

// ColumnNames returns the names of all columns in declaration order
func (m *Model) ColumnNames() []string {
	names := make([]string, len(m.columns))
	for i, c := range m.columns {
		names[i] = c.Name
	}
	return names
}
