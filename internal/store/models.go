package store

import (
	"strings"
	"time"

	"stackd/api/internal/catalog"
)

func columns(s catalog.Schema) string {
	cols := make([]string, 0, len(s.Fields)+5)
	cols = append(cols, "id")
	for _, f := range s.Fields {
		cols = append(cols, f.Column)
	}
	cols = append(cols, "image_url", "ranking_index", "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

// ContentItem is one row of a ranked collection. Fields is keyed by
// catalog.Field.Key.
type ContentItem struct {
	ID           string
	Collection   catalog.Collection
	Fields       map[string]string
	ImageURL     string
	RankingIndex float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AdminUser struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}
