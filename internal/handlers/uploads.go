package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/service"
)

// UploadHandler serves bounded binary blobs. Uploads are raw bodies, not
// multipart: the signature scheme covers the exact bytes sent.
type UploadHandler struct {
	uploads *service.UploadService
}

func NewUploadHandler(uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		Fail(w, r, domain.Invalid(domain.CodeValidation, "could not read upload body"))
		return
	}
	u, err := h.uploads.Create(r.Context(), caller(r),
		r.Header.Get("X-Upload-Filename"), r.Header.Get("Content-Type"), data)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, u)
}

func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	us, err := h.uploads.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, us)
}

// Get streams the blob itself, not an envelope.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.uploads.Get(r.Context(), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", u.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(u.Size, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(u.Data)
}

func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.uploads.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}
