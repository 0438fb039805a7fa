package core

// Notifier is an interface to receive entity lifecycle notifications.
// The backend calls Notify after a create, update or delete operation
// was committed to the database.
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
