package search

import (
	"strings"

	"stackd/api/internal/catalog"
	"stackd/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Collection   string  `json:"collection"`
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Snippet      string  `json:"snippet"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	RankingIndex float64 `json:"rankingIndex"`
}

// Query describes a search request.
type Query struct {
	Text       string
	Collection string // empty = all collections
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is the data we index for one content item.
type Record struct {
	Key          string  `json:"key"`
	ID           string  `json:"id"`
	Collection   string  `json:"collection"`
	Title        string  `json:"title"`
	Snippet      string  `json:"snippet"`
	Body         string  `json:"body"`
	ImageURL     string  `json:"imageUrl"`
	RankingIndex float64 `json:"rankingIndex"`
}

// RecordKey builds the Meilisearch primary key. Item ids are only unique
// within their collection.
func RecordKey(collection, id string) string {
	return collection + "_" + id
}

func RecordFromItem(schema catalog.Schema, item store.ContentItem) Record {
	body := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		if value := strings.TrimSpace(item.Fields[f.Key]); value != "" {
			body = append(body, value)
		}
	}
	return Record{
		Key:          RecordKey(string(schema.Collection), item.ID),
		ID:           item.ID,
		Collection:   string(schema.Collection),
		Title:        schema.Label(item.Fields),
		Snippet:      item.Fields[schema.SubLabelKey],
		Body:         strings.Join(body, " "),
		ImageURL:     item.ImageURL,
		RankingIndex: item.RankingIndex,
	}
}

func resultFromItem(schema catalog.Schema, item store.ContentItem) Result {
	return Result{
		Collection:   string(schema.Collection),
		ID:           item.ID,
		Title:        schema.Label(item.Fields),
		Snippet:      item.Fields[schema.SubLabelKey],
		ImageURL:     item.ImageURL,
		RankingIndex: item.RankingIndex,
	}
}
