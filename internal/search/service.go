package search

import (
	"context"

	"go.uber.org/zap"

	"stackd/api/internal/catalog"
	"stackd/api/internal/store"
)

// Lister loads whole collections for a reindex.
type Lister interface {
	ListAll(ctx context.Context, schema catalog.Schema) ([]store.ContentItem, error)
}

// Service tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili    *Meili
	fallback *Fallback
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *Fallback, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger.Named("search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.String("query", q.Text), zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexContent pushes one item to Meilisearch without waiting.
func (s *Service) IndexContent(schema catalog.Schema, item store.ContentItem) {
	if !s.meiliReady() {
		return
	}
	record := RecordFromItem(schema, item)
	go func() {
		if err := s.meili.Index(record); err != nil {
			s.logger.Warn("index content", zap.String("key", record.Key), zap.Error(err))
		}
	}()
}

// DeleteContent removes one item from Meilisearch without waiting.
func (s *Service) DeleteContent(collection, id string) {
	if !s.meiliReady() {
		return
	}
	key := RecordKey(collection, id)
	go func() {
		if err := s.meili.Delete(key); err != nil {
			s.logger.Warn("delete content", zap.String("key", key), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every collection from Postgres into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context, lister Lister) {
	if !s.meiliReady() {
		return
	}
	for _, name := range catalog.Collections() {
		schema, _ := catalog.SchemaFor(string(name))
		items, err := lister.ListAll(ctx, schema)
		if err != nil {
			s.logger.Warn("reindex load failed", zap.String("collection", string(name)), zap.Error(err))
			continue
		}
		records := make([]Record, 0, len(items))
		for _, item := range items {
			records = append(records, RecordFromItem(schema, item))
		}
		if err := s.meili.Index(records...); err != nil {
			s.logger.Warn("reindex failed", zap.String("collection", string(name)), zap.Error(err))
			continue
		}
		s.logger.Info("reindexed collection", zap.String("collection", string(name)), zap.Int("items", len(records)))
	}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
