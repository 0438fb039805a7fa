package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudio/core"
	"github.com/relabs-tech/crudio/core/access"
	"github.com/relabs-tech/crudio/core/model"
)

var articleModel = model.MustNew("article", []model.Column{
	{Name: "title", Type: model.TypeString},
	{Name: "body", Type: model.TypeString},
})

var commentModel = model.MustNew("article/comment", []model.Column{
	{Name: "text", Type: model.TypeString},
})

// ownerPolicy allows writes for the actor named in the record's title
type ownerPolicy struct {
	DefaultPolicy
}

func (ownerPolicy) CanWrite(ctx context.Context, rec *Record) bool {
	auth := access.AuthorizationFromContext(ctx)
	title, _ := rec.Value("title")
	return auth != nil && title == auth.Identity
}

// grantPolicy denies everything and marks records as role grants
type grantPolicy struct {
	DefaultPolicy
}

func (grantPolicy) CanCreate(context.Context, *Record) bool { return false }

func (grantPolicy) GrantedRole(rec *Record) (string, string) {
	identity, _ := rec.Value("title")
	role, _ := rec.Value("body")
	return fmt.Sprint(identity), fmt.Sprint(role)
}

func contextWithRoles(roles ...string) context.Context {
	auth := &access.Authorization{Identity: "alice", Roles: roles}
	return access.ContextWithAuthorization(context.Background(), auth)
}

func TestPolicyDecision(t *testing.T) {
	rec := NewRecord(articleModel, map[string]interface{}{"title": "alice"})
	reader := contextWithRoles("reader")
	admin := contextWithRoles(access.AdminRole)

	t.Run("enforcement off", func(t *testing.T) {
		registry := NewRegistry()
		registry.RegisterPolicy("article", ownerPolicy{})
		assert.True(t, registry.allowed(reader, core.OperationUpdate, rec, false))
	})

	t.Run("no registered policy", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		assert.True(t, registry.allowed(reader, core.OperationUpdate, rec, false))
	})

	t.Run("no actor in context", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		registry.RegisterPolicy("article", ownerPolicy{})
		assert.True(t, registry.allowed(context.Background(), core.OperationUpdate, rec, false))
	})

	t.Run("bypass", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		registry.RegisterPolicy("article", grantPolicy{})
		assert.True(t, registry.allowed(reader, core.OperationUpdate, rec, true))
	})

	t.Run("owner may write, stranger may not", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		registry.RegisterPolicy("article", ownerPolicy{})

		assert.True(t, registry.allowed(reader, core.OperationUpdate, rec, false))
		stranger := NewRecord(articleModel, map[string]interface{}{"title": "bob"})
		assert.False(t, registry.allowed(reader, core.OperationUpdate, stranger, false))
	})

	t.Run("write permission implies read", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		registry.RegisterPolicy("article", ownerPolicy{})
		assert.True(t, registry.allowed(reader, core.OperationRead, rec, false))
	})

	t.Run("create allowed by default policy", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		registry.RegisterPolicy("article", struct{ DefaultPolicy }{})
		assert.True(t, registry.allowed(reader, core.OperationCreate, rec, false))
		assert.False(t, registry.allowed(reader, core.OperationDelete, rec, false))
	})

	t.Run("admin overrides denial", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		registry.RegisterPolicy("article", ownerPolicy{})
		stranger := NewRecord(articleModel, map[string]interface{}{"title": "bob"})
		assert.True(t, registry.allowed(admin, core.OperationUpdate, stranger, false))
	})

	t.Run("admin cannot grant own admin role", func(t *testing.T) {
		registry := NewRegistry()
		registry.EnableAuthorization()
		registry.RegisterPolicy("article", grantPolicy{})

		self := NewRecord(articleModel, map[string]interface{}{"title": "alice", "body": access.AdminRole})
		assert.False(t, registry.allowed(admin, core.OperationCreate, self, false))

		other := NewRecord(articleModel, map[string]interface{}{"title": "bob", "body": access.AdminRole})
		assert.True(t, registry.allowed(admin, core.OperationCreate, other, false))

		lesser := NewRecord(articleModel, map[string]interface{}{"title": "alice", "body": "reader"})
		assert.True(t, registry.allowed(admin, core.OperationCreate, lesser, false))
	})
}

func TestRecordIdentifierAssignedAtConstruction(t *testing.T) {
	rec := NewRecord(articleModel, map[string]interface{}{"title": "a"})
	key, ok := rec.Key().(uuid.UUID)
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, key)
	assert.False(t, rec.Persisted())

	// an explicit identifier is kept
	id := uuid.New()
	rec = NewRecord(articleModel, map[string]interface{}{"article_id": id})
	assert.Equal(t, id, rec.Key())
}

func TestRecordSetValidatesColumns(t *testing.T) {
	rec := NewRecord(articleModel, nil)
	require.NoError(t, rec.Set("title", "a"))
	err := rec.Set("titel", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "titel")
}

func TestRecordAttach(t *testing.T) {
	article := NewRecord(articleModel, nil)
	comment := NewRecord(commentModel, map[string]interface{}{"text": "hi"})
	require.NoError(t, article.Attach(comment))

	parentID, ok := comment.Value("article_id")
	require.True(t, ok)
	assert.Equal(t, article.Key(), parentID)
	assert.Len(t, article.Children(), 1)

	// not a child model
	other := NewRecord(articleModel, nil)
	assert.Error(t, article.Attach(other))
}

func TestRecordObjectCarriesTimestamps(t *testing.T) {
	rec := NewRecord(articleModel, map[string]interface{}{"title": "a"})
	object := rec.Object()
	assert.Contains(t, object, "title")
	assert.Contains(t, object, model.ColumnCreatedAt)
	assert.Contains(t, object, model.ColumnUpdatedAt)

	// the object is a copy
	object["title"] = "b"
	title, _ := rec.Value("title")
	assert.Equal(t, "a", title)
}

func TestSessionBypassRestoresState(t *testing.T) {
	s := NewRegistry().NewSession(nil)

	err := s.Bypass(func() error {
		assert.True(t, s.bypass)
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, s.bypass)

	// nested bypass keeps the outer scope active
	s.Bypass(func() error {
		s.Bypass(func() error { return nil })
		assert.True(t, s.bypass)
		return nil
	})
	assert.False(t, s.bypass)
}

func TestErrorPredicates(t *testing.T) {
	forbidden := &ForbiddenError{Resource: "article", Operation: core.OperationUpdate}
	assert.True(t, IsForbidden(forbidden))
	assert.True(t, IsForbidden(fmt.Errorf("save: %w", forbidden)))
	assert.False(t, IsForbidden(errors.New("other")))
	assert.True(t, strings.Contains(forbidden.Error(), "article"))

	notFound := &NotFoundError{Resource: "article", Key: "x"}
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(forbidden))
}

func TestParameterValueZeroDefaults(t *testing.T) {
	// missing values on non-nullable columns bind the same zero the
	// table defaults declare
	value, err := parameterValue(model.Column{Name: "at", Type: model.TypeDateTime}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, time.Time{}, value)

	value, err = parameterValue(model.Column{Name: "at", Type: model.TypeDate, Nullable: true}, nil, false)
	require.NoError(t, err)
	assert.Nil(t, value)

	value, err = parameterValue(model.Column{Name: "n", Type: model.TypeInteger}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)
}

func TestStatementsAreCached(t *testing.T) {
	a := statementsFor(articleModel, "tester")
	b := statementsFor(articleModel, "tester")
	assert.Same(t, a, b)
	assert.Contains(t, a.insertQuery, `"article"`)
	assert.Contains(t, a.getQuery, `"article_id" = $1`)
}
