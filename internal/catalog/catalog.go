// Package catalog lists the ranked content collections and how their fields
// are named. It has no storage dependency so clients can share it.
package catalog

import (
	"sort"
	"strings"
)

// Collection names a ranked content collection as it appears in URLs.
type Collection string

const (
	CollectionCertifications Collection = "certifications"
	CollectionTeamMembers    Collection = "team-members"
	CollectionTestimonials   Collection = "testimonials"
)

// Field maps a table column to the key used in forms and JSON.
type Field struct {
	Column   string
	Key      string
	Required bool
}

// Schema describes how a collection is stored. Table and column names are
// fixed here and never come from user input.
type Schema struct {
	Collection  Collection
	Table       string
	Fields      []Field
	LabelKeys   []string
	SubLabelKey string
}

var schemas = map[Collection]Schema{
	CollectionCertifications: {
		Collection: CollectionCertifications,
		Table:      "certifications",
		Fields: []Field{
			{Column: "title", Key: "title", Required: true},
			{Column: "description", Key: "description", Required: true},
		},
		LabelKeys:   []string{"title"},
		SubLabelKey: "description",
	},
	CollectionTeamMembers: {
		Collection: CollectionTeamMembers,
		Table:      "team_members",
		Fields: []Field{
			{Column: "first_name", Key: "firstName", Required: true},
			{Column: "middle_name", Key: "middleName"},
			{Column: "last_name", Key: "lastName", Required: true},
			{Column: "role", Key: "role", Required: true},
			{Column: "bio", Key: "bio", Required: true},
		},
		LabelKeys:   []string{"firstName", "lastName"},
		SubLabelKey: "role",
	},
	CollectionTestimonials: {
		Collection: CollectionTestimonials,
		Table:      "testimonials",
		Fields: []Field{
			{Column: "title", Key: "title", Required: true},
			{Column: "description", Key: "description", Required: true},
			{Column: "body", Key: "body", Required: true},
		},
		LabelKeys:   []string{"title"},
		SubLabelKey: "description",
	},
}

func SchemaFor(name string) (Schema, bool) {
	schema, ok := schemas[Collection(name)]
	return schema, ok
}

func Collections() []Collection {
	out := make([]Collection, 0, len(schemas))
	for name := range schemas {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Label is the display title used by the sort view.
func (s Schema) Label(fields map[string]string) string {
	parts := make([]string, 0, len(s.LabelKeys))
	for _, key := range s.LabelKeys {
		if value := strings.TrimSpace(fields[key]); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " ")
}
