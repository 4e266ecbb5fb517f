package repo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaQuotesReservedColumns(t *testing.T) {
	// cursor is a MySQL reserved word; unquoted it breaks CREATE TABLE.
	assert.Contains(t, schema[0], "`cursor` INT")
	for _, stmt := range schema {
		assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS"))
	}
}
