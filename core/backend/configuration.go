package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/crudio/core"
)

// the configurable methods of a resource. "index" is the collection
// listing, the remaining four operate on a single item. PUT is
// deliberately not supported, partial updates go through PATCH.
const (
	MethodIndex  = "index"
	MethodGet    = "get"
	MethodPost   = "post"
	MethodPatch  = "patch"
	MethodDelete = "delete"
)

var allMethods = []string{MethodIndex, MethodGet, MethodPost, MethodPatch, MethodDelete}

func methodOperation(method string) core.Operation {
	switch method {
	case MethodIndex:
		return core.OperationList
	case MethodGet:
		return core.OperationRead
	case MethodPost:
		return core.OperationCreate
	case MethodPatch:
		return core.OperationUpdate
	case MethodDelete:
		return core.OperationDelete
	}
	panic(fmt.Sprintf("unknown method %s", method))
}

func validateMethod(method string) error {
	if method == "put" {
		return fmt.Errorf("method put is not supported, use patch")
	}
	for _, m := range allMethods {
		if method == m {
			return nil
		}
	}
	return fmt.Errorf("unknown method %s, must be one of %s", method, strings.Join(allMethods, ", "))
}

// methodConfiguration is the per-method override object
type methodConfiguration struct {
	// Schema overrides the resource's schema for this method's
	// response, and for post also for the request body.
	Schema string `json:"schema,omitempty"`
	// ArgsSchema declares an alternate argument schema for patch
	// request bodies.
	ArgsSchema string `json:"args_schema,omitempty"`
	// AdminOnly annotates the route for the authorization gate
	AdminOnly bool `json:"admin_only,omitempty"`
	// OperationID overrides the derived operation id
	OperationID string `json:"operation_id,omitempty"`
}

// methodSet is the "methods" entry of a resource configuration. It
// accepts two shapes: a plain list of enabled method names, or a map
// from method name to true (default configuration), false (disabled)
// or an override object.
type methodSet struct {
	enabled map[string]*methodConfiguration
}

// UnmarshalJSON implements the two configuration shapes
func (ms *methodSet) UnmarshalJSON(data []byte) error {
	ms.enabled = make(map[string]*methodConfiguration)

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		for _, method := range list {
			if err := validateMethod(method); err != nil {
				return err
			}
			ms.enabled[method] = &methodConfiguration{}
		}
		return nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("methods must be a list of method names or a map of method configurations")
	}
	for method, raw := range entries {
		if err := validateMethod(method); err != nil {
			return err
		}
		var flag bool
		if err := json.Unmarshal(raw, &flag); err == nil {
			if flag {
				ms.enabled[method] = &methodConfiguration{}
			}
			continue
		}
		mc := &methodConfiguration{}
		if err := json.Unmarshal(raw, mc); err != nil {
			return fmt.Errorf("method %s: %s", method, err)
		}
		ms.enabled[method] = mc
	}
	return nil
}

// resourceConfiguration describes one CRUD resource: which model and
// schema it binds, which methods it exposes and how.
type resourceConfiguration struct {
	// Resource is the resource path, for example "article" or
	// "blog/article". This is mandatory.
	Resource string `json:"resource"`
	// Model names the model descriptor, defaults to the resource's
	// own name.
	Model string `json:"model,omitempty"`
	// Schema names the serialization schema, defaults to the
	// resource's own name.
	Schema      string `json:"schema,omitempty"`
	Description string `json:"description,omitempty"`
	// Methods selects and configures the exposed methods. All methods
	// are enabled when absent.
	Methods *methodSet `json:"methods,omitempty"`
	// SkipMethods removes methods after resolution. Removing a method
	// that is not enabled is a no-op.
	SkipMethods []string `json:"skip_methods,omitempty"`
	// ForbiddenAsNotFound masks a denied read as 404, hiding the
	// record's existence
	ForbiddenAsNotFound bool `json:"forbidden_as_not_found,omitempty"`
	// SchemaID enables JSON-schema validation of request bodies
	SchemaID string `json:"schema_id,omitempty"`
	// DefaultPageSize overrides the backend's default page size
	DefaultPageSize int `json:"default_page_size,omitempty"`
}

// resolveMethods returns the enabled methods with their configuration,
// after applying skip_methods
func (rc *resourceConfiguration) resolveMethods() (map[string]*methodConfiguration, error) {
	enabled := make(map[string]*methodConfiguration)
	if rc.Methods == nil {
		for _, method := range allMethods {
			enabled[method] = &methodConfiguration{}
		}
	} else {
		for method, mc := range rc.Methods.enabled {
			enabled[method] = mc
		}
	}
	for _, method := range rc.SkipMethods {
		if err := validateMethod(method); err != nil {
			return nil, err
		}
		delete(enabled, method)
	}
	return enabled, nil
}

// methodNames returns the enabled method names in declaration order,
// for deterministic route registration
func methodNames(enabled map[string]*methodConfiguration) []string {
	var names []string
	for method := range enabled {
		names = append(names, method)
	}
	sort.Slice(names, func(i, j int) bool {
		return methodRank(names[i]) < methodRank(names[j])
	})
	return names
}

func methodRank(method string) int {
	for i, m := range allMethods {
		if method == m {
			return i
		}
	}
	return len(allMethods)
}

// backendConfiguration is the JSON description of all resources
type backendConfiguration struct {
	Resources []resourceConfiguration `json:"resources"`
}
