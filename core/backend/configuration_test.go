package backend

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, configuration string) (map[string]*methodConfiguration, error) {
	var rc resourceConfiguration
	require.NoError(t, json.Unmarshal([]byte(configuration), &rc))
	return rc.resolveMethods()
}

func TestMethodsDefaultToAll(t *testing.T) {
	enabled, err := resolve(t, `{"resource": "article"}`)
	require.NoError(t, err)
	assert.Len(t, enabled, 5)
	assert.Equal(t, allMethods, methodNames(enabled))
}

func TestMethodsListShape(t *testing.T) {
	enabled, err := resolve(t, `{"resource": "article", "methods": ["post", "index", "get"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"index", "get", "post"}, methodNames(enabled))
}

func TestMethodsMapShape(t *testing.T) {
	enabled, err := resolve(t, `{"resource": "article", "methods": {
		"index": true,
		"get": true,
		"patch": false,
		"delete": {"admin_only": true, "operation_id": "purgeArticle"}
	}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"index", "get", "delete"}, methodNames(enabled))
	assert.True(t, enabled["delete"].AdminOnly)
	assert.Equal(t, "purgeArticle", enabled["delete"].OperationID)
}

func TestMethodsRejectPut(t *testing.T) {
	var rc resourceConfiguration
	err := json.Unmarshal([]byte(`{"resource": "article", "methods": ["put"]}`), &rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use patch")

	err = json.Unmarshal([]byte(`{"resource": "article", "methods": {"put": true}}`), &rc)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"resource": "article", "methods": ["fetch"]}`), &rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestSkipMethods(t *testing.T) {
	enabled, err := resolve(t, `{"resource": "article",
		"methods": ["index", "get", "post"], "skip_methods": ["post"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"index", "get"}, methodNames(enabled))

	// skipping a method that is not enabled is a no-op
	again, err := resolve(t, `{"resource": "article",
		"methods": ["index", "get"], "skip_methods": ["post", "delete"]}`)
	require.NoError(t, err)
	assert.Equal(t, methodNames(enabled), methodNames(again))

	_, err = resolve(t, `{"resource": "article", "skip_methods": ["nonsense"]}`)
	assert.Error(t, err)
}
