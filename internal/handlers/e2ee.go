package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// E2EEHandler serves the key bundle registry.
type E2EEHandler struct {
	e2ee *service.E2EEService
}

func NewE2EEHandler(e2ee *service.E2EEService) *E2EEHandler {
	return &E2EEHandler{e2ee: e2ee}
}

func (h *E2EEHandler) Put(w http.ResponseWriter, r *http.Request) {
	var in service.KeyBundleInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	kb, err := h.e2ee.Put(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, kb)
}

func (h *E2EEHandler) Get(w http.ResponseWriter, r *http.Request) {
	kb, err := h.e2ee.Get(r.Context(), caller(r), pathVar(r, "clawId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, kb)
}
