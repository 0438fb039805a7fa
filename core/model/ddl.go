package model

import (
	"fmt"
	"strings"
)

// sqlType maps a column type to its postgres representation. Non-nullable
// columns get a zero default so that partial documents can be inserted.
func sqlType(c Column) string {
	var t, def string
	switch c.Type {
	case TypeUUID:
		t, def = "uuid", "'00000000-0000-0000-0000-000000000000'"
	case TypeString, TypeEnum:
		t, def = "varchar", "''"
	case TypeInteger:
		t, def = "bigint", "0"
	case TypeFloat:
		t, def = "double precision", "0"
	case TypeDecimal:
		t, def = "numeric", "0"
	case TypeBoolean:
		t, def = "boolean", "false"
	case TypeDate:
		t, def = "date", "'0001-01-01'"
	case TypeDateTime:
		t, def = "timestamp", "'0001-01-01 00:00:00'"
	case TypeJSON:
		t, def = "json", "'{}'::jsonb"
	default:
		panic(fmt.Sprintf("unsupported column type %s", c.Type))
	}
	if c.Nullable {
		return t
	}
	return t + " NOT NULL DEFAULT " + def
}

// CreateTableQuery returns the DDL to create this model's table in the
// given database schema, if it does not exist yet. The table name is the
// full resource path; parent identifiers form a cascading composite
// foreign key onto the parent's table, following the resource hierarchy.
func (m *Model) CreateTableQuery(schema string) string {
	var createColumns []string

	primary := m.primary
	if primary.Type == TypeUUID {
		createColumns = append(createColumns,
			fmt.Sprintf("%s uuid NOT NULL DEFAULT uuid_generate_v4() PRIMARY KEY", primary.Name))
	} else {
		createColumns = append(createColumns,
			fmt.Sprintf("%s %s PRIMARY KEY", primary.Name, strings.Fields(sqlType(primary))[0]+" NOT NULL"))
	}

	var foreignColumns []string
	for i := len(m.parents) - 1; i >= 0; i-- {
		that := m.parents[i]
		createColumns = append(createColumns, fmt.Sprintf("%s_id uuid NOT NULL", that))
		foreignColumns = append(foreignColumns, that+"_id")
	}
	if len(m.parents) > 0 {
		foreign := strings.Join(foreignColumns, ",")
		createColumns = append(createColumns, "FOREIGN KEY ("+foreign+") "+
			"REFERENCES "+schema+".\""+strings.Join(m.parents, "/")+"\" "+
			"("+foreign+") ON DELETE CASCADE")
	}

	for _, c := range m.declared {
		createColumn := fmt.Sprintf("\"%s\" %s", c.Name, sqlType(c))
		if c.Unique {
			createColumn += " UNIQUE"
		}
		createColumns = append(createColumns, createColumn)
	}

	createColumns = append(createColumns, ColumnCreatedAt+" timestamp NOT NULL DEFAULT now()")
	createColumns = append(createColumns, ColumnUpdatedAt+" timestamp NOT NULL DEFAULT now()")

	query := fmt.Sprintf("CREATE table IF NOT EXISTS %s.\"%s\"(%s);",
		schema, m.resource, strings.Join(createColumns, ", "))

	// sort index, the list operation orders by creation time
	query += fmt.Sprintf("CREATE index IF NOT EXISTS %s ON %s.\"%s\"(%s);",
		"sort_index_"+m.this+"_created_at", schema, m.resource, ColumnCreatedAt)

	return query
}
