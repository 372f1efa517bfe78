package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// DraftHandler serves per-claw draft CRUD.
type DraftHandler struct {
	drafts *service.DraftService
}

func NewDraftHandler(drafts *service.DraftService) *DraftHandler {
	return &DraftHandler{drafts: drafts}
}

func (h *DraftHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.DraftInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	d, err := h.drafts.Create(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, d)
}

func (h *DraftHandler) List(w http.ResponseWriter, r *http.Request) {
	ds, err := h.drafts.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ds)
}

func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Get(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, d)
}

func (h *DraftHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.DraftInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	d, err := h.drafts.Update(r.Context(), caller(r), pathVar(r, "id"), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, d)
}

func (h *DraftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.drafts.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}
