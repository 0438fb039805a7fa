package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/crudio/core/model"
)

// Record is one row of a model's table. Object fields live in a plain
// map keyed by column name. A uuid primary identifier is assigned at
// construction, before the record was ever written; models with an
// integer or opaque primary must carry the identifier in their values.
//
// Setting a json column replaces the stored value as a whole, list
// content is never merged.
type Record struct {
	model     *model.Model
	values    map[string]interface{}
	createdAt time.Time
	updatedAt time.Time
	children  []*Record
	persisted bool
}

// NewRecord creates a transient record for the given model
func NewRecord(m *model.Model, values map[string]interface{}) *Record {
	rec := &Record{
		model:  m,
		values: make(map[string]interface{}, len(values)+1),
	}
	for name, value := range values {
		rec.values[name] = value
	}
	primary := m.Primary().Name
	if m.IDKind() == model.IDKindUUID {
		if _, ok := rec.values[primary]; !ok {
			rec.values[primary] = uuid.New()
		}
	}
	return rec
}

// Model returns the record's model descriptor
func (r *Record) Model() *model.Model { return r.model }

// Key returns the primary identifier value
func (r *Record) Key() interface{} { return r.values[r.model.Primary().Name] }

// Persisted reports whether the record was read from or written to the
// database
func (r *Record) Persisted() bool { return r.persisted }

// CreatedAt returns the creation timestamp, zero for transient records
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the last modification timestamp
func (r *Record) UpdatedAt() time.Time { return r.updatedAt }

// Value returns the value for a column
func (r *Record) Value(name string) (interface{}, bool) {
	value, ok := r.values[name]
	return value, ok
}

// Set stores the value for a column. The column must exist on the model.
func (r *Record) Set(name string, value interface{}) error {
	if _, ok := r.model.Column(name); !ok {
		return fmt.Errorf("model %s has no column %s", r.model.Resource(), name)
	}
	r.values[name] = value
	return nil
}

// SetAll stores all given values, see Set
func (r *Record) SetAll(values map[string]interface{}) error {
	for name, value := range values {
		if err := r.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Attach adds a child record. The child's model must declare this
// record's model as its immediate parent; the parent identifier is
// filled in from this record's key. Transient children are created,
// with a creation permission check, when this record is saved.
func (r *Record) Attach(child *Record) error {
	parents := child.model.Parents()
	if len(parents) == 0 || parents[len(parents)-1] != r.model.This() {
		return fmt.Errorf("model %s is not a child of %s", child.model.Resource(), r.model.Resource())
	}
	if err := child.Set(r.model.This()+"_id", r.Key()); err != nil {
		return err
	}
	r.children = append(r.children, child)
	return nil
}

// Children returns the attached child records
func (r *Record) Children() []*Record { return r.children }

// Object returns a copy of the record's values including the
// timestamps, suitable for serialization through a schema.
func (r *Record) Object() map[string]interface{} {
	object := make(map[string]interface{}, len(r.values)+2)
	for name, value := range r.values {
		object[name] = value
	}
	object[model.ColumnCreatedAt] = r.createdAt
	object[model.ColumnUpdatedAt] = r.updatedAt
	return object
}
