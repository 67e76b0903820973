package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/models"
	"github.com/starford/keep/internal/sse"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc    *itemservice.Service
	events *sse.Broker
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(svc *itemservice.Service, events *sse.Broker) *Handler {
	return &Handler{svc: svc, events: events}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListItems handles GET /api/items.
//
//	@Summary		List items newest first
//	@Tags			items
//	@Produce		json
//	@Param			count	query		int		false	"Max items"
//	@Param			tag		query		string	false	"Required tag (repeatable)"
//	@Success		200		{object}	ItemListResponse
//	@Security		BearerAuth
//	@Router			/items [get]
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, _ := strconv.Atoi(q.Get("count"))
	items, err := h.svc.List(r.Context(), models.ListItems{Count: count, Tags: q["tag"]})
	if err != nil {
		writeError(w, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items})
}

// AddItem handles POST /api/items.
//
//	@Summary		Save a new item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddItemRequest	true	"Item to add"
//	@Success		201		{object}	models.Item
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items [post]
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	item, err := h.svc.Add(r.Context(), req)
	if err != nil {
		writeError(w, "add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// GetItem handles GET /api/items/{id}.
//
//	@Summary		Get one item
//	@Tags			items
//	@Produce		json
//	@Param			id	path		string	true	"Item id"
//	@Success		200	{object}	models.Item
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// EditItem handles PATCH /api/items/{id}.
//
//	@Summary		Update an item and re-index it
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Item id"
//	@Param			body	body		EditItemRequest	true	"Fields to change"
//	@Success		200		{object}	models.Item
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [patch]
func (h *Handler) EditItem(w http.ResponseWriter, r *http.Request) {
	var req EditItemRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.svc.Edit(r.Context(), models.EditItem{
		ID:         chi.URLParam(r, "id"),
		Name:       req.Name,
		URL:        req.URL,
		Body:       req.Body,
		Summary:    req.Summary,
		Comment:    req.Comment,
		AddTags:    req.AddTags,
		RemoveTags: req.RemoveTags,
	})
	if err != nil {
		writeError(w, "edit item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /api/items/{id}.
//
//	@Summary		Delete an item, its blob and its index document
//	@Tags			items
//	@Param			id	path	string	true	"Item id"
//	@Success		204	"Item deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [delete]
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBlob handles GET /api/items/{id}/blob and GET /api/blobs/{id}.
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	blob, err := h.svc.GetBlob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get blob", err)
		return
	}
	writeJSON(w, http.StatusOK, blob)
}

// BlobContent handles GET /api/blobs/{id}/content and streams the stored
// file.
func (h *Handler) BlobContent(w http.ResponseWriter, r *http.Request) {
	blob, err := h.svc.GetBlob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "blob content", err)
		return
	}
	f, err := os.Open(blob.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, errorBody("blob file missing"))
			return
		}
		writeError(w, "blob content", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, "blob content", err)
		return
	}
	if blob.ContentType != "" {
		w.Header().Set("Content-Type", blob.ContentType)
	}
	w.Header().Set("ETag", strconv.Quote(blob.ContentHash))
	http.ServeContent(w, r, filepath.Base(blob.LocalPath), info.ModTime(), f)
}

// LinkedItems handles GET /api/items/{id}/links.
func (h *Handler) LinkedItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.LinkedItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "linked items", err)
		return
	}
	writeJSON(w, http.StatusOK, ItemListResponse{Items: items})
}

// Verify handles GET /api/items/{id}/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Reindex handles POST /api/items/{id}/reindex.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reindex(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "reindex", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Link handles POST /api/links.
//
//	@Summary		Link two items
//	@Tags			links
//	@Accept			json
//	@Param			body	body	LinkRequest	true	"Items to link"
//	@Success		204		"Linked"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [post]
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.A == "" || req.B == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("a and b are required"))
		return
	}
	if err := h.svc.Link(r.Context(), req.A, req.B); err != nil {
		writeError(w, "link", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unlink handles DELETE /api/links.
func (h *Handler) Unlink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.A == "" || req.B == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("a and b are required"))
		return
	}
	if err := h.svc.Unlink(r.Context(), req.A, req.B); err != nil {
		writeError(w, "unlink", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Ranked search across items
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, "status", err)
		return
	}
	resp := StatusResponse{Stats: st}
	if h.events != nil {
		resp.Clients = h.events.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
