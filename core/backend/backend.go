// Package backend generates RESTful CRUD endpoints from model/schema
// pairs.
//
// The backend is driven by a JSON configuration that binds resources
// to model descriptors and serialization schemas. For every resource
// it creates the database table (if requested), derives a filter
// schema for the listing route and registers the handlers on a mux
// router. Policies registered on the entity registry are enforced on
// every persistence operation.
package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudio/core"
	"github.com/relabs-tech/crudio/core/access"
	"github.com/relabs-tech/crudio/core/csql"
	"github.com/relabs-tech/crudio/core/entity"
	"github.com/relabs-tech/crudio/core/logger"
	"github.com/relabs-tech/crudio/core/model"
	"github.com/relabs-tech/crudio/core/schema"
)

const defaultPageSize = 100

// Backend is the generic rest backend
type Backend struct {
	config               backendConfiguration
	db                   *csql.DB
	router               *mux.Router
	gate                 *access.Gate
	models               map[string]*model.Model
	schemas              map[string]*schema.Schema
	jsonValidator        *schema.Validator
	authorizationEnabled bool
	updateSchema         bool
	defaultPageSize      int
	// Registry holds the policies and lifecycle hooks for this
	// backend's resources
	Registry *entity.Registry
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Models are the model descriptors the configuration refers to by
	// resource name. This is mandatory.
	Models []*model.Model
	// Schemas are the serialization schemas the configuration refers
	// to by name. This is mandatory.
	Schemas []*schema.Schema
	// Registry carries policies and lifecycle hooks. A fresh registry
	// is created when this is nil.
	Registry *entity.Registry
	// Notifier receives lifecycle notifications after commit. This is optional.
	Notifier core.Notifier
	// Gate is the authorization gate middleware builder. Mandatory for
	// configurations that declare admin_only methods.
	Gate *access.Gate
	// AuthorizationEnabled enables policy enforcement and the gate middleware
	AuthorizationEnabled bool
	// UpdateSchema creates the database tables at construction time
	UpdateSchema bool
	// JSONSchemas are optional JSON schemas for request body validation,
	// referenced from the configuration via schema_id
	JSONSchemas []string
	// JSONSchemasRefs are additional schemas the JSONSchemas may refer to
	JSONSchemasRefs []string
	// DefaultPageSize is the page size for listings without an explicit
	// page_size, default 100
	DefaultPageSize int
}

// New realizes the actual backend. It creates the sql tables (if
// requested) and adds the routes to the router. Configuration errors
// panic, a backend must not start with a broken configuration.
func New(bb *Builder) *Backend {

	var config backendConfiguration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}

	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	registry := bb.Registry
	if registry == nil {
		registry = entity.NewRegistry()
	}
	if bb.Notifier != nil {
		registry.SetNotifier(bb.Notifier)
	}
	if bb.AuthorizationEnabled {
		registry.EnableAuthorization()
	}

	pageSize := bb.DefaultPageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	validator, err := schema.NewValidator(bb.JSONSchemas, bb.JSONSchemasRefs)
	if err != nil {
		panic(fmt.Errorf("parse error in JSON validation schemas: %s", err))
	}

	b := &Backend{
		config:               config,
		db:                   bb.DB,
		router:               bb.Router,
		gate:                 bb.Gate,
		models:               make(map[string]*model.Model),
		schemas:              make(map[string]*schema.Schema),
		jsonValidator:        validator,
		authorizationEnabled: bb.AuthorizationEnabled,
		updateSchema:         bb.UpdateSchema,
		defaultPageSize:      pageSize,
		Registry:             registry,
	}
	for _, m := range bb.Models {
		b.models[m.Resource()] = m
	}
	for _, s := range bb.Schemas {
		b.schemas[s.Name()] = s
	}

	b.handleCORS()
	logger.AddRequestID(b.router)
	if b.gate != nil {
		b.router.Use(b.gate.Middleware())
	}
	access.HandleAuthorizationRoute(b.router)
	b.handleRoutes(b.router)
	return b
}

// handleRoutes adds all necessary handlers for the configured resources
func (b *Backend) handleRoutes(router *mux.Router) {

	logger.Default().Debugln("backend: handle routes")

	// resources are sorted by depth, dependencies must be created
	// first so that child tables can declare their foreign keys
	resources := make([]resourceConfiguration, len(b.config.Resources))
	copy(resources, b.config.Resources)
	sort.SliceStable(resources, func(i, j int) bool {
		return strings.Count(resources[i].Resource, "/") < strings.Count(resources[j].Resource, "/")
	})

	for _, rc := range resources {
		b.createResource(router, rc)
	}
}

// lookupModel resolves a configured model name, panics on failure
func (b *Backend) lookupModel(rc resourceConfiguration) *model.Model {
	name := rc.Model
	if name == "" {
		name = rc.Resource
	}
	m, ok := b.models[name]
	if !ok {
		panic(fmt.Sprintf("configuration of %s: unknown model %s", rc.Resource, name))
	}
	return m
}

// lookupSchema resolves a schema name, panics on failure
func (b *Backend) lookupSchema(resource, name string) *schema.Schema {
	s, ok := b.schemas[name]
	if !ok {
		panic(fmt.Sprintf("configuration of %s: unknown schema %s", resource, name))
	}
	return s
}
