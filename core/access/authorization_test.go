package access_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/crudio/core/access"
)

func TestHasRoleAndIsAdmin(t *testing.T) {
	auth := access.Authorization{Roles: []string{"reader", "admin"}}
	assert.True(t, auth.HasRole("reader"))
	assert.True(t, auth.IsAdmin())
	assert.False(t, auth.HasRole("writer"))

	var nilAuth *access.Authorization
	assert.False(t, nilAuth.HasRole("reader"))
	assert.False(t, nilAuth.IsAdmin())
}

func gateRouter(t *testing.T, gate *access.Gate, auth *access.Authorization) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	ok := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	router.HandleFunc("/things", ok).Methods(http.MethodGet).Name("listThing")
	router.HandleFunc("/things", ok).Methods(http.MethodPost).Name("createThing")
	router.HandleFunc("/health", ok).Methods(http.MethodGet).Name("health")
	if auth != nil {
		router.Use(func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h.ServeHTTP(w, r.WithContext(access.ContextWithAuthorization(r.Context(), auth)))
			})
		})
	}
	router.Use(gate.Middleware())
	return router
}

func status(router *mux.Router, method, path string) int {
	r := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w.Code
}

func TestGatePublicRoute(t *testing.T) {
	gate := access.NewGate()
	gate.Public("health")
	router := gateRouter(t, gate, nil)

	assert.Equal(t, http.StatusOK, status(router, http.MethodGet, "/health"))
	assert.Equal(t, http.StatusUnauthorized, status(router, http.MethodGet, "/things"))
}

func TestGateAdminOnlyRoute(t *testing.T) {
	gate := access.NewGate()
	gate.AdminOnly("createThing")

	reader := &access.Authorization{Roles: []string{"reader"}}
	router := gateRouter(t, gate, reader)
	assert.Equal(t, http.StatusOK, status(router, http.MethodGet, "/things"))
	assert.Equal(t, http.StatusForbidden, status(router, http.MethodPost, "/things"))

	admin := &access.Authorization{Roles: []string{"admin"}}
	router = gateRouter(t, gate, admin)
	assert.Equal(t, http.StatusOK, status(router, http.MethodPost, "/things"))
}

func TestBackdoorMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(auth.Roles[0]))
	}).Methods(http.MethodGet)
	router.Use(access.NewBackdoorMiddleware(&access.BackdoorMiddlewareBuilder{
		Backdoors: map[string]access.Authorization{
			"please": {Roles: []string{"admin"}},
		},
	}))

	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.Header.Set("Authorization", "Bearer please")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", w.Body.String())

	r = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
