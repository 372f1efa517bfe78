package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// CarapaceHandler serves the versioned behavioural document.
type CarapaceHandler struct {
	carapace *service.CarapaceService
}

func NewCarapaceHandler(carapace *service.CarapaceService) *CarapaceHandler {
	return &CarapaceHandler{carapace: carapace}
}

func (h *CarapaceHandler) Current(w http.ResponseWriter, r *http.Request) {
	v, err := h.carapace.Current(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, v)
}

func (h *CarapaceHandler) Put(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Document json.RawMessage `json:"document"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	v, err := h.carapace.Put(r.Context(), caller(r), in.Document)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, v)
}

func (h *CarapaceHandler) History(w http.ResponseWriter, r *http.Request) {
	vs, err := h.carapace.History(r.Context(), caller(r), queryInt(r, "limit", 20))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, vs)
}
