package store

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackd/api/internal/catalog"
)

func TestSchemaColumnsOrder(t *testing.T) {
	schema, _ := catalog.SchemaFor("testimonials")
	cols := columns(schema)
	assert.True(t, strings.HasPrefix(cols, "id, title, description, body"))
	assert.True(t, strings.HasSuffix(cols, "image_url, ranking_index, created_at, updated_at"))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_now`, escapeLike("50% off_now"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func TestUpMigrationsSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("select 2")},
		"0001_a.up.sql":   {Data: []byte("select 1")},
		"0001_a.down.sql": {Data: []byte("select 0")},
		"README.md":       {Data: []byte("notes")},
	}
	files, err := upMigrations(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, files)
}
