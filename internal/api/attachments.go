package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 50 << 20 // 50 MB

// UploadBlob handles POST /api/items/{id}/blob (multipart/form-data, field
// "file"). The upload becomes the item's managed blob.
//
//	@Summary		Attach a file to an item
//	@Tags			items
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			id		path		string	true	"Item id"
//	@Param			file	formData	file	true	"Content to store"
//	@Success		201		{object}	models.Item
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id}/blob [post]
func (h *Handler) UploadBlob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	item, err := h.svc.Attach(r.Context(), chi.URLParam(r, "id"), header.Filename, file)
	if err != nil {
		writeError(w, "upload blob", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
