package app

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"stackd/api/internal/catalog"
	"stackd/api/internal/rbac"
)

const (
	maxUploadBytes = 10 << 20
	// A rank-only patch is a single small form field.
	maxRankFormBytes = 64 << 10
)

func (s *HTTPServer) handleListContent(w http.ResponseWriter, r *http.Request, collection string) {
	query := r.URL.Query()
	if all, _ := strconv.ParseBool(query.Get("all")); all {
		items, err := s.service.ListAllContent(r.Context(), collection)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": items})
		return
	}

	pageNumber, err := intParam(query.Get("pageNumber"), 1)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pageNumber must be an integer", nil)
		return
	}
	pageSize, err := intParam(query.Get("pageSize"), 10)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pageSize must be an integer", nil)
		return
	}
	page, err := s.service.ListContentPage(r.Context(), collection, pageNumber, pageSize)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   page.Items,
		"meta": map[string]any{
			"totalRecords": page.TotalRecords,
			"currentPage":  page.CurrentPage,
			"pageSize":     page.PageSize,
			"totalPages":   page.TotalPages,
		},
	})
}

func (s *HTTPServer) handleCreateContent(w http.ResponseWriter, r *http.Request, collection string) {
	schema, ok := catalog.SchemaFor(collection)
	if !ok {
		s.writeMappedError(w, r, unknownCollection(collection))
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	fields := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		fields[f.Key] = r.FormValue(f.Key)
	}
	image, closeImage, err := formImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	defer closeImage()

	created, err := s.service.CreateContent(r.Context(), collection, ContentInput{Fields: fields, Image: image})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "data": created})
}

// handleUpdateContent applies a multipart patch. Only keys present in the
// form are changed. A patch with nothing but rankingIndex needs the reorder
// permission; anything else needs write.
func (s *HTTPServer) handleUpdateContent(w http.ResponseWriter, r *http.Request, session Session, collection, id string) {
	schema, ok := catalog.SchemaFor(collection)
	if !ok {
		s.writeMappedError(w, r, unknownCollection(collection))
		return
	}
	canWrite := s.service.Can(session.Role, rbac.ActionWrite)
	if !canWrite && !s.service.Can(session.Role, rbac.ActionReorder) {
		s.forbid(w, r, session, rbac.ActionReorder)
		return
	}
	limit := int64(maxUploadBytes + 1<<20)
	if !canWrite {
		limit = maxRankFormBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	patch := ContentPatch{Fields: map[string]string{}}
	for _, f := range schema.Fields {
		if values, ok := r.MultipartForm.Value[f.Key]; ok && len(values) > 0 {
			patch.Fields[f.Key] = values[0]
		}
	}
	if values, ok := r.MultipartForm.Value["rankingIndex"]; ok && len(values) > 0 {
		rank, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rankingIndex must be a number", nil)
			return
		}
		patch.RankingIndex = &rank
	}
	image, closeImage, err := formImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	defer closeImage()
	patch.Image = image

	action := rbac.ActionWrite
	if patch.rankOnly() {
		action = rbac.ActionReorder
	}
	if !s.service.Can(session.Role, action) {
		s.forbid(w, r, session, action)
		return
	}

	updated, err := s.service.UpdateContent(r.Context(), collection, id, patch)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": updated})
}

func (s *HTTPServer) handleReorder(w http.ResponseWriter, r *http.Request, collection string) {
	var body struct {
		ItemID    string `json:"itemId"`
		FromIndex *int   `json:"fromIndex"`
		ToIndex   *int   `json:"toIndex"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.ItemID) == "" || body.FromIndex == nil || body.ToIndex == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "itemId, fromIndex and toIndex are required", nil)
		return
	}

	items, err := s.service.Reorder(r.Context(), collection, strings.TrimSpace(body.ItemID), *body.FromIndex, *body.ToIndex)
	if err != nil {
		s.logger.Warn("reorder failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("collection", collection),
			zap.String("item_id", body.ItemID),
			zap.Error(err),
		)
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": items})
}

// formImage returns the optional "image" file part. The returned close func
// is always safe to call.
func formImage(r *http.Request) (*Upload, func(), error) {
	noop := func() {}
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, noop, nil
		}
		return nil, noop, fmt.Errorf("read image: %w", err)
	}
	return &Upload{
		Filename:    header.Filename,
		ContentType: partContentType(header),
		Size:        header.Size,
		Body:        file,
	}, func() { _ = file.Close() }, nil
}

func partContentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
