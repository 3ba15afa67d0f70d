package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaForKnownCollections(t *testing.T) {
	for _, name := range []string{"certifications", "team-members", "testimonials"} {
		schema, ok := SchemaFor(name)
		require.True(t, ok, name)
		assert.Equal(t, Collection(name), schema.Collection)
		assert.NotEmpty(t, schema.Fields)
	}

	_, ok := SchemaFor("users")
	assert.False(t, ok)
}

func TestCollectionsSorted(t *testing.T) {
	assert.Equal(t, []Collection{
		CollectionCertifications,
		CollectionTeamMembers,
		CollectionTestimonials,
	}, Collections())
}

func TestSchemaLabel(t *testing.T) {
	schema, _ := SchemaFor("team-members")
	assert.Equal(t, "Ada Lovelace", schema.Label(map[string]string{
		"firstName":  "Ada",
		"middleName": "King",
		"lastName":   "Lovelace",
	}))
	assert.Equal(t, "Ada", schema.Label(map[string]string{"firstName": " Ada "}))
}
