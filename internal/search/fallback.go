package search

import (
	"context"
	"fmt"
	"strings"

	"stackd/api/internal/catalog"
	"stackd/api/internal/store"
)

// ContentSearcher is the Postgres side of search.
type ContentSearcher interface {
	SearchContent(ctx context.Context, schema catalog.Schema, text string, limit int) ([]store.ContentItem, error)
}

// Fallback answers queries with ILIKE matching in Postgres when Meilisearch
// is down or not configured.
type Fallback struct {
	db ContentSearcher
}

func NewFallback(db ContentSearcher) *Fallback {
	return &Fallback{db: db}
}

func (f *Fallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	schemas, err := targetSchemas(q.Collection)
	if err != nil {
		return nil, 0, err
	}

	var results []Result
	for _, schema := range schemas {
		items, err := f.db.SearchContent(ctx, schema, q.Text, limit+offset)
		if err != nil {
			return nil, 0, fmt.Errorf("search %s: %w", schema.Collection, err)
		}
		for _, item := range items {
			results = append(results, resultFromItem(schema, item))
		}
	}

	total := len(results)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return results[offset:end], total, nil
}

func targetSchemas(collection string) ([]catalog.Schema, error) {
	if collection != "" {
		schema, ok := catalog.SchemaFor(collection)
		if !ok {
			return nil, fmt.Errorf("unknown collection %q", collection)
		}
		return []catalog.Schema{schema}, nil
	}
	names := catalog.Collections()
	schemas := make([]catalog.Schema, 0, len(names))
	for _, name := range names {
		schema, _ := catalog.SchemaFor(string(name))
		schemas = append(schemas, schema)
	}
	return schemas, nil
}
