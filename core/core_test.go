package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/crudio/core"
)

func TestPlural(t *testing.T) {
	assert.Equal(t, "articles", core.Plural("article"))
	assert.Equal(t, "categories", core.Plural("category"))
	assert.Equal(t, "grandchildren", core.Plural("grandchild"))
}

func TestSnakeToPascal(t *testing.T) {
	assert.Equal(t, "Article", core.SnakeToPascal("article"))
	assert.Equal(t, "SalesOrder", core.SnakeToPascal("sales_order"))
	assert.Equal(t, "A", core.SnakeToPascal("a"))
	assert.Equal(t, "", core.SnakeToPascal(""))
}

func TestPascalToSnake(t *testing.T) {
	assert.Equal(t, "article", core.PascalToSnake("Article"))
	assert.Equal(t, "sales_order", core.PascalToSnake("SalesOrder"))
	assert.Equal(t, "sales_order", core.PascalToSnake(core.SnakeToPascal("sales_order")))
}

func TestOperationID(t *testing.T) {
	assert.Equal(t, "listArticle", core.OperationID(core.OperationList, "Article"))
	assert.Equal(t, "createArticle", core.OperationID(core.OperationCreate, "Article"))
	assert.Equal(t, "getArticle", core.OperationID(core.OperationRead, "Article"))
	assert.Equal(t, "updateArticle", core.OperationID(core.OperationUpdate, "Article"))
	assert.Equal(t, "deleteSalesOrder", core.OperationID(core.OperationDelete, "SalesOrder"))
}
