package access

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudio/core/logger"
)

// Gate is the global request gate. Routes are registered by name (their
// operation id) and annotated as public or admin-only; the gate's
// middleware enforces the annotations before any handler runs.
//
// Routes without annotation require an authenticated actor. Public routes
// pass always. Admin-only routes additionally require the admin role.
type Gate struct {
	mutex     sync.RWMutex
	public    map[string]bool
	adminOnly map[string]bool
}

// NewGate creates an empty request gate.
func NewGate() *Gate {
	return &Gate{
		public:    make(map[string]bool),
		adminOnly: make(map[string]bool),
	}
}

// Public annotates the named route to bypass authentication.
func (g *Gate) Public(operationID string) {
	g.mutex.Lock()
	g.public[operationID] = true
	g.mutex.Unlock()
}

// AdminOnly annotates the named route to require the admin role.
func (g *Gate) AdminOnly(operationID string) {
	g.mutex.Lock()
	g.adminOnly[operationID] = true
	g.mutex.Unlock()
}

// IsPublic returns true if the named route was annotated public.
func (g *Gate) IsPublic(operationID string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.public[operationID]
}

// IsAdminOnly returns true if the named route was annotated admin-only.
func (g *Gate) IsAdminOnly(operationID string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.adminOnly[operationID]
}

// Middleware returns the gate as mux middleware. It must be installed on
// the same router the named routes were registered on, otherwise the
// route name cannot be resolved and the request is rejected.
func (g *Gate) Middleware() mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions { // CORS preflight
				h.ServeHTTP(w, r)
				return
			}
			name := ""
			if route := mux.CurrentRoute(r); route != nil {
				name = route.GetName()
			}
			if g.IsPublic(name) {
				h.ServeHTTP(w, r)
				return
			}
			auth := AuthorizationFromContext(r.Context())
			if auth == nil {
				logger.FromContext(r.Context()).Infoln("gate: unauthenticated request for", name)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if g.IsAdminOnly(name) && !auth.IsAdmin() {
				logger.FromContext(r.Context()).Infoln("gate: admin required for", name)
				http.Error(w, "admin required", http.StatusForbidden)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
