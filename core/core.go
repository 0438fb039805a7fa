package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported database operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Plural returns the plural form of the passed singular string.
//
// This is the algorithm used to create idiomatic REST routes
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "child") {
		return strings.TrimSuffix(singular, "child") + "children"
	}
	return singular + "s"
}

// SnakeToPascal converts a snake_case property name to its PascalCase
// representation. Example: "sales_order" becomes "SalesOrder".
func SnakeToPascal(property string) string {
	parts := strings.Split(property, "_")
	for i := 0; i < len(parts); i++ {
		s := parts[i]
		if len(s) == 0 {
			continue
		}
		runes := []rune(strings.ToLower(s))
		r := runes[0]
		if 'a' <= r && r <= 'z' {
			runes[0] = r + 'A' - 'a'
		}
		parts[i] = string(runes)
	}
	return strings.Join(parts, "")
}

// PascalToSnake converts a PascalCase name to its snake_case
// representation. Example: "SalesOrder" becomes "sales_order".
func PascalToSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if 'A' <= r && r <= 'Z' {
			if i > 0 {
				b.WriteRune('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OperationID derives the conventional operation identifier for an
// operation on a model, e.g. "listArticle" or "deleteSalesOrder".
// These identifiers name the generated routes and show up in client
// generators and API documentation.
func OperationID(operation Operation, displayName string) string {
	verb := string(operation)
	if operation == OperationRead {
		verb = "get"
	}
	return verb + strings.ReplaceAll(displayName, " ", "")
}
