package entity

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/crudio/core"
)

// ForbiddenError is returned when a policy denies an operation for the
// actor in the request context.
type ForbiddenError struct {
	Resource  string
	Operation core.Operation
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s on %s forbidden", e.Operation, e.Resource)
}

// IsForbidden reports whether err is or wraps a ForbiddenError
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// NotFoundError is returned when a record does not exist, or when a
// denied read is masked for the resource.
type NotFoundError struct {
	Resource string
	Key      interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s with identifier %v", e.Resource, e.Key)
}

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
