package entity

import (
	"context"
	"sync"

	"github.com/relabs-tech/crudio/core"
	"github.com/relabs-tech/crudio/core/access"
)

// Policy decides whether the actor in the request context may create,
// read or write a given record. Policies are registered per resource;
// a resource without a policy is unrestricted. Write permission always
// implies read permission.
//
// An admin actor overrides a policy denial, with one exception: a
// RoleGrantPolicy denial stands when the denied record would grant the
// admin role to the actor's own identity.
type Policy interface {
	CanCreate(ctx context.Context, rec *Record) bool
	CanRead(ctx context.Context, rec *Record) bool
	CanWrite(ctx context.Context, rec *Record) bool
}

// DefaultPolicy allows creation and denies reads and writes. Embed it
// into your own policy and override selectively.
type DefaultPolicy struct{}

// CanCreate allows the creation
func (DefaultPolicy) CanCreate(context.Context, *Record) bool { return true }

// CanRead denies the read
func (DefaultPolicy) CanRead(context.Context, *Record) bool { return false }

// CanWrite denies the write
func (DefaultPolicy) CanWrite(context.Context, *Record) bool { return false }

// RoleGrantPolicy is a policy for resources whose records grant a role
// to an identity, for example an account or membership resource.
// GrantedRole returns the identity and role a record stands for.
type RoleGrantPolicy interface {
	Policy
	GrantedRole(rec *Record) (identity string, role string)
}

// Event identifies a point in a record's lifecycle where hooks run
type Event int

// the lifecycle events
const (
	BeforeCreate Event = iota
	AfterCreate
	BeforeUpdate
	AfterUpdate
	BeforeDelete
	AfterDelete
)

// Hook is a lifecycle callback. Hooks run inside the session's
// transaction; an error aborts the operation and rolls back.
type Hook func(ctx context.Context, s *Session, rec *Record) error

type hookKey struct {
	resource string
	event    Event
}

// Registry holds the policies, lifecycle hooks and notification target
// for a set of resources. Sessions are created from a registry, one per
// request.
type Registry struct {
	mutex    sync.RWMutex
	policies map[string]Policy
	masked   map[string]bool
	hooks    map[hookKey][]Hook
	enforce  bool
	notifier core.Notifier
}

// NewRegistry creates an empty registry. Enforcement is off until
// EnableAuthorization is called.
func NewRegistry() *Registry {
	return &Registry{
		policies: make(map[string]Policy),
		masked:   make(map[string]bool),
		hooks:    make(map[hookKey][]Hook),
	}
}

// EnableAuthorization turns on policy enforcement
func (r *Registry) EnableAuthorization() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.enforce = true
}

// RegisterPolicy registers the policy for a resource, replacing any
// previously registered policy.
func (r *Registry) RegisterPolicy(resource string, p Policy) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.policies[resource] = p
}

// MaskDenied configures a resource to report a denied read as not found
// rather than forbidden, hiding the record's existence.
func (r *Registry) MaskDenied(resource string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.masked[resource] = true
}

// RegisterHook adds a lifecycle hook for a resource. Hooks for the same
// event run in registration order.
func (r *Registry) RegisterHook(resource string, event Event, h Hook) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	key := hookKey{resource: resource, event: event}
	r.hooks[key] = append(r.hooks[key], h)
}

// SetNotifier sets the target for lifecycle notifications. Sessions
// dispatch collected notifications after a successful commit.
func (r *Registry) SetNotifier(n core.Notifier) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.notifier = n
}

func (r *Registry) policy(resource string) (Policy, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	p, ok := r.policies[resource]
	return p, ok
}

func (r *Registry) isMasked(resource string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.masked[resource]
}

func (r *Registry) hooksFor(resource string, event Event) []Hook {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.hooks[hookKey{resource: resource, event: event}]
}

// allowed runs the policy decision for one operation on one record
func (r *Registry) allowed(ctx context.Context, operation core.Operation, rec *Record, bypass bool) bool {
	r.mutex.RLock()
	enforce := r.enforce
	r.mutex.RUnlock()
	if bypass || !enforce {
		return true
	}
	p, ok := r.policy(rec.Model().Resource())
	if !ok {
		return true
	}
	auth := access.AuthorizationFromContext(ctx)
	if auth == nil {
		return true
	}

	var granted bool
	switch operation {
	case core.OperationCreate:
		granted = p.CanCreate(ctx, rec)
	case core.OperationRead:
		granted = p.CanRead(ctx, rec) || p.CanWrite(ctx, rec)
	default:
		granted = p.CanWrite(ctx, rec)
	}
	if granted {
		return true
	}

	if auth.IsAdmin() {
		// an admin cannot push their own admin role grant through a
		// denying policy
		if rg, isRoleGrant := p.(RoleGrantPolicy); isRoleGrant {
			identity, role := rg.GrantedRole(rec)
			if role == access.AdminRole && identity == auth.Identity {
				return false
			}
		}
		return true
	}
	return false
}
