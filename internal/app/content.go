package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stackd/api/internal/catalog"
	"stackd/api/internal/ranking"
	"stackd/api/internal/reorder"
	"stackd/api/internal/store"
	"stackd/api/internal/util"
)

// Upload is an image received in a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type ContentInput struct {
	Fields map[string]string
	Image  *Upload
}

// ContentPatch carries only what the client sent. A patch holding nothing
// but RankingIndex is a rank update and touches no other column.
type ContentPatch struct {
	Fields       map[string]string
	Image        *Upload
	RankingIndex *float64
}

func (p ContentPatch) rankOnly() bool {
	return p.RankingIndex != nil && len(p.Fields) == 0 && p.Image == nil
}

type Page struct {
	Items        []map[string]any
	TotalRecords int
	CurrentPage  int
	PageSize     int
	TotalPages   int
}

func (s *Service) schema(collection string) (catalog.Schema, error) {
	schema, ok := catalog.SchemaFor(collection)
	if !ok {
		return catalog.Schema{}, unknownCollection(collection)
	}
	return schema, nil
}

func (s *Service) ListAllContent(ctx context.Context, collection string) ([]map[string]any, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListAll(ctx, schema)
	if err != nil {
		return nil, err
	}
	return contentPayloads(schema, items), nil
}

func (s *Service) ListContentPage(ctx context.Context, collection string, page, size int) (Page, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return Page{}, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	items, total, err := s.store.ListPage(ctx, schema, page, size)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Items:        contentPayloads(schema, items),
		TotalRecords: total,
		CurrentPage:  page,
		PageSize:     size,
		TotalPages:   int(math.Ceil(float64(total) / float64(size))),
	}, nil
}

func (s *Service) GetContent(ctx context.Context, collection, id string) (map[string]any, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetContent(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	return contentPayload(schema, item), nil
}

func (s *Service) CreateContent(ctx context.Context, collection string, input ContentInput) (map[string]any, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(schema.Fields))
	var missing []string
	for _, f := range schema.Fields {
		value := strings.TrimSpace(input.Fields[f.Key])
		if f.Required && value == "" {
			missing = append(missing, f.Key)
		}
		fields[f.Key] = value
	}
	if input.Image == nil {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return nil, validationError("Missing required fields", map[string]any{"fields": missing})
	}

	imageURL, err := s.uploadImage(ctx, schema, input.Image)
	if err != nil {
		return nil, err
	}

	item := store.ContentItem{
		ID:           util.NewID(""),
		Collection:   schema.Collection,
		Fields:       fields,
		ImageURL:     imageURL,
		RankingIndex: ranking.CreationRank(s.now()),
	}
	if err := s.store.InsertContent(ctx, schema, item); err != nil {
		s.discardImage(ctx, imageURL)
		return nil, err
	}

	created, err := s.store.GetContent(ctx, schema, item.ID)
	if err != nil {
		return nil, err
	}
	s.indexContent(schema, created)
	s.logger.Info("content created", zap.String("collection", collection), zap.String("id", created.ID))
	return contentPayload(schema, created), nil
}

func (s *Service) UpdateContent(ctx context.Context, collection, id string, patch ContentPatch) (map[string]any, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	if patch.RankingIndex != nil && !finite(*patch.RankingIndex) {
		return nil, validationError("rankingIndex must be a finite number", nil)
	}

	if patch.rankOnly() {
		if err := s.store.UpdateRankingIndex(ctx, schema, id, *patch.RankingIndex); err != nil {
			return nil, err
		}
		updated, err := s.store.GetContent(ctx, schema, id)
		if err != nil {
			return nil, err
		}
		s.indexContent(schema, updated)
		return contentPayload(schema, updated), nil
	}

	existing, err := s.store.GetContent(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	next := existing
	next.Fields = make(map[string]string, len(schema.Fields))
	var blank []string
	for _, f := range schema.Fields {
		value := existing.Fields[f.Key]
		if incoming, ok := patch.Fields[f.Key]; ok {
			value = strings.TrimSpace(incoming)
		}
		if f.Required && value == "" {
			blank = append(blank, f.Key)
		}
		next.Fields[f.Key] = value
	}
	if len(blank) > 0 {
		return nil, validationError("Required fields cannot be blank", map[string]any{"fields": blank})
	}
	if patch.RankingIndex != nil {
		next.RankingIndex = *patch.RankingIndex
	}
	if patch.Image != nil {
		imageURL, err := s.uploadImage(ctx, schema, patch.Image)
		if err != nil {
			return nil, err
		}
		next.ImageURL = imageURL
	}

	if err := s.store.UpdateContent(ctx, schema, next); err != nil {
		if patch.Image != nil {
			s.discardImage(ctx, next.ImageURL)
		}
		return nil, err
	}
	if patch.Image != nil && existing.ImageURL != "" {
		s.discardImage(ctx, existing.ImageURL)
	}

	updated, err := s.store.GetContent(ctx, schema, id)
	if err != nil {
		return nil, err
	}
	s.indexContent(schema, updated)
	return contentPayload(schema, updated), nil
}

func (s *Service) DeleteContent(ctx context.Context, collection, id string) error {
	schema, err := s.schema(collection)
	if err != nil {
		return err
	}
	existing, err := s.store.GetContent(ctx, schema, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteContent(ctx, schema, id); err != nil {
		return err
	}
	if existing.ImageURL != "" {
		s.discardImage(ctx, existing.ImageURL)
	}
	if s.index != nil {
		s.index.DeleteContent(collection, id)
	}
	s.logger.Info("content deleted", zap.String("collection", collection), zap.String("id", id))
	return nil
}

func (s *Service) uploadImage(ctx context.Context, schema catalog.Schema, image *Upload) (string, error) {
	if s.media == nil {
		return "", errMediaUnavailable
	}
	url, err := s.media.Upload(ctx, string(schema.Collection), image.Filename, image.ContentType, image.Body, image.Size)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return url, nil
}

// discardImage removes an orphaned image. Failures leave a stray object in
// the bucket and are only logged.
func (s *Service) discardImage(ctx context.Context, url string) {
	if s.media == nil || url == "" {
		return
	}
	if err := s.media.Delete(ctx, url); err != nil {
		s.logger.Warn("delete image", zap.String("url", url), zap.Error(err))
	}
}

func (s *Service) indexContent(schema catalog.Schema, item store.ContentItem) {
	if s.index != nil {
		s.index.IndexContent(schema, item)
	}
}

// Reorder moves one item with a server-side reorder session against the
// database. Reorders of the same collection run one at a time.
func (s *Service) Reorder(ctx context.Context, collection, itemID string, from, to int) ([]map[string]any, error) {
	schema, err := s.schema(collection)
	if err != nil {
		return nil, err
	}

	lock := s.reorderLock(collection)
	lock.Lock()
	defer lock.Unlock()

	remote := &storeCollaborator{store: s.store, onRank: s.indexContent}
	session := reorder.New(remote,
		reorder.WithLogger(s.logger),
		reorder.WithConcurrency(s.cfg.RenormalizeConcurrency),
	)
	defer session.Close()

	if err := session.Open(ctx, string(schema.Collection)); err != nil {
		return nil, err
	}
	started := time.Now()
	if err := session.Move(ctx, itemID, from, to); err != nil {
		return nil, err
	}
	s.logger.Info("content reordered",
		zap.String("collection", collection),
		zap.String("item_id", itemID),
		zap.Int("from", from),
		zap.Int("to", to),
		zap.Duration("took", time.Since(started)),
	)

	items := session.Items()
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload := make(map[string]any, len(item.Payload))
		for k, v := range item.Payload {
			payload[k] = v
		}
		payload["rankingIndex"] = item.Rank
		out = append(out, payload)
	}
	return out, nil
}

func (s *Service) reorderLock(collection string) *sync.Mutex {
	s.reorderMu.Lock()
	defer s.reorderMu.Unlock()
	if s.reorderLocks == nil {
		s.reorderLocks = make(map[string]*sync.Mutex)
	}
	lock, ok := s.reorderLocks[collection]
	if !ok {
		lock = &sync.Mutex{}
		s.reorderLocks[collection] = lock
	}
	return lock
}

// storeCollaborator serves a reorder session straight from Postgres.
type storeCollaborator struct {
	store  dataStore
	onRank func(catalog.Schema, store.ContentItem)
	items  map[string]store.ContentItem
}

func (c *storeCollaborator) ListAll(ctx context.Context, collection string) ([]ranking.Item, error) {
	schema, ok := catalog.SchemaFor(collection)
	if !ok {
		return nil, unknownCollection(collection)
	}
	rows, err := c.store.ListAll(ctx, schema)
	if err != nil {
		return nil, err
	}
	c.items = make(map[string]store.ContentItem, len(rows))
	items := make([]ranking.Item, 0, len(rows))
	for _, row := range rows {
		c.items[row.ID] = row
		items = append(items, ranking.Item{
			ID:      row.ID,
			Rank:    row.RankingIndex,
			Payload: contentPayload(schema, row),
		})
	}
	return items, nil
}

func (c *storeCollaborator) UpdateRank(ctx context.Context, collection, itemID string, rank float64) error {
	schema, ok := catalog.SchemaFor(collection)
	if !ok {
		return unknownCollection(collection)
	}
	if err := c.store.UpdateRankingIndex(ctx, schema, itemID, rank); err != nil {
		return err
	}
	if row, ok := c.items[itemID]; ok && c.onRank != nil {
		row.RankingIndex = rank
		c.onRank(schema, row)
	}
	return nil
}

func contentPayloads(schema catalog.Schema, items []store.ContentItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, contentPayload(schema, item))
	}
	return out
}

func contentPayload(schema catalog.Schema, item store.ContentItem) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"imageUrl":     item.ImageURL,
		"rankingIndex": item.RankingIndex,
		"createdAt":    item.CreatedAt,
		"updatedAt":    item.UpdatedAt,
	}
	for _, f := range schema.Fields {
		payload[f.Key] = item.Fields[f.Key]
	}
	return payload
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
