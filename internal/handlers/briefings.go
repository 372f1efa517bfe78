package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// BriefingHandler serves published briefings and acknowledgements.
type BriefingHandler struct {
	briefings *service.BriefingService
}

func NewBriefingHandler(briefings *service.BriefingService) *BriefingHandler {
	return &BriefingHandler{briefings: briefings}
}

func (h *BriefingHandler) List(w http.ResponseWriter, r *http.Request) {
	bs, err := h.briefings.List(r.Context(), caller(r), r.URL.Query().Get("type"), queryInt(r, "limit", 20))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, bs)
}

func (h *BriefingHandler) Latest(w http.ResponseWriter, r *http.Request) {
	b, err := h.briefings.Latest(r.Context(), caller(r), r.URL.Query().Get("type"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, b)
}

func (h *BriefingHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.briefings.Acknowledge(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}
