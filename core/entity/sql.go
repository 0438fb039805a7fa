package entity

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/crudio/core/model"
)

// per-model SQL strings, computed once and kept forever
type statements struct {
	table       string
	insertQuery string // parameters: all columns, returns created_at, updated_at
	updateQuery string // parameters: primary, then the remaining columns, returns updated_at
	selectQuery string // without WHERE clause
	getQuery    string // parameter: primary
	deleteQuery string // parameter: primary
}

type statementsKey struct {
	m      *model.Model
	schema string
}

var statementsMutex sync.Mutex
var statementsCache = make(map[statementsKey]*statements)

func statementsFor(m *model.Model, schema string) *statements {
	statementsMutex.Lock()
	defer statementsMutex.Unlock()
	key := statementsKey{m: m, schema: schema}
	if s, ok := statementsCache[key]; ok {
		return s
	}

	table := fmt.Sprintf("%s.\"%s\"", schema, m.Resource())
	columns := m.Columns()
	primary := m.Primary().Name

	quoted := make([]string, len(columns))
	insertParameters := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + c.Name + `"`
		insertParameters[i] = fmt.Sprintf("$%d", i+1)
	}

	var sets []string
	n := 2
	for _, c := range columns {
		if c.Name == primary {
			continue
		}
		sets = append(sets, fmt.Sprintf("\"%s\" = $%d", c.Name, n))
		n++
	}

	s := &statements{
		table: table,
		insertQuery: fmt.Sprintf("INSERT INTO %s (%s) VALUES(%s) RETURNING %s, %s;",
			table, strings.Join(quoted, ", "), strings.Join(insertParameters, ", "),
			model.ColumnCreatedAt, model.ColumnUpdatedAt),
		updateQuery: fmt.Sprintf("UPDATE %s SET %s, %s = now() WHERE \"%s\" = $1 RETURNING %s;",
			table, strings.Join(sets, ", "), model.ColumnUpdatedAt, primary, model.ColumnUpdatedAt),
		selectQuery: fmt.Sprintf("SELECT %s, %s, %s FROM %s ",
			strings.Join(quoted, ", "), model.ColumnCreatedAt, model.ColumnUpdatedAt, table),
		deleteQuery: fmt.Sprintf("DELETE FROM %s WHERE \"%s\" = $1;", table, primary),
	}
	s.getQuery = s.selectQuery + fmt.Sprintf("WHERE \"%s\" = $1;", primary)
	statementsCache[key] = s
	return s
}

// parameterValue resolves a record value into a driver parameter.
// Missing values on non-nullable columns become the column's zero, the
// same zero the table defaults declare.
func parameterValue(c model.Column, value interface{}, ok bool) (interface{}, error) {
	if !ok || value == nil {
		if c.Nullable {
			return nil, nil
		}
		switch c.Type {
		case model.TypeDate, model.TypeDateTime:
			return time.Time{}, nil
		case model.TypeUUID:
			return uuid.Nil, nil
		case model.TypeString, model.TypeEnum:
			return "", nil
		case model.TypeInteger:
			return int64(0), nil
		case model.TypeFloat, model.TypeDecimal:
			return float64(0), nil
		case model.TypeBoolean:
			return false, nil
		case model.TypeJSON:
			return []byte("{}"), nil
		}
		return nil, nil
	}
	if c.Type == model.TypeJSON {
		body, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return body, nil
	}
	return value, nil
}

// scanHolder returns a destination for scanning one column
func scanHolder(c model.Column) interface{} {
	switch c.Type {
	case model.TypeUUID:
		return &uuid.UUID{}
	case model.TypeString, model.TypeEnum:
		return new(string)
	case model.TypeInteger:
		return new(int64)
	case model.TypeFloat, model.TypeDecimal:
		return new(float64)
	case model.TypeBoolean:
		return new(bool)
	case model.TypeDate, model.TypeDateTime:
		return new(sql.NullTime)
	case model.TypeJSON:
		return new([]byte)
	}
	return new(interface{})
}

// holderValue unwraps a scanned destination into a record value
func holderValue(c model.Column, holder interface{}) (interface{}, error) {
	switch h := holder.(type) {
	case *uuid.UUID:
		return *h, nil
	case *string:
		return *h, nil
	case *int64:
		return *h, nil
	case *float64:
		return *h, nil
	case *bool:
		return *h, nil
	case *sql.NullTime:
		if !h.Valid {
			return nil, nil
		}
		return h.Time, nil
	case *[]byte:
		var value interface{}
		if len(*h) > 0 {
			if err := json.Unmarshal(*h, &value); err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
		}
		return value, nil
	}
	return nil, fmt.Errorf("column %s: unsupported scan destination", c.Name)
}

// ScanRow reads one result row into a record. The row must carry the
// model's columns followed by created_at and updated_at, plus any
// extra scan destinations.
func ScanRow(m *model.Model, scan func(...interface{}) error, extra ...interface{}) (*Record, error) {
	return scanRecord(m, scan, extra...)
}

// scanRecord reads one row into a record. The row must carry the
// model's columns followed by created_at and updated_at.
func scanRecord(m *model.Model, scan func(...interface{}) error, extra ...interface{}) (*Record, error) {
	columns := m.Columns()
	holders := make([]interface{}, 0, len(columns)+2+len(extra))
	for _, c := range columns {
		holders = append(holders, scanHolder(c))
	}
	var createdAt, updatedAt time.Time
	holders = append(holders, &createdAt, &updatedAt)
	holders = append(holders, extra...)

	if err := scan(holders...); err != nil {
		return nil, err
	}

	rec := &Record{
		model:     m,
		values:    make(map[string]interface{}, len(columns)),
		createdAt: createdAt,
		updatedAt: updatedAt,
		persisted: true,
	}
	for i, c := range columns {
		value, err := holderValue(c, holders[i])
		if err != nil {
			return nil, err
		}
		rec.values[c.Name] = value
	}
	return rec, nil
}
