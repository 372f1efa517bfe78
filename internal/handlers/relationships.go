package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// RelationshipHandler serves relationship strengths, at-risk detection, and
// manual layer overrides.
type RelationshipHandler struct {
	relationships *service.RelationshipService
}

func NewRelationshipHandler(relationships *service.RelationshipService) *RelationshipHandler {
	return &RelationshipHandler{relationships: relationships}
}

func (h *RelationshipHandler) List(w http.ResponseWriter, r *http.Request) {
	rs, err := h.relationships.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rs)
}

func (h *RelationshipHandler) AtRisk(w http.ResponseWriter, r *http.Request) {
	rs, err := h.relationships.AtRisk(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rs)
}

func (h *RelationshipHandler) Get(w http.ResponseWriter, r *http.Request) {
	rel, err := h.relationships.Get(r.Context(), caller(r), pathVar(r, "clawId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rel)
}

func (h *RelationshipHandler) Override(w http.ResponseWriter, r *http.Request) {
	var in service.LayerOverride
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	rel, err := h.relationships.Override(r.Context(), caller(r), pathVar(r, "clawId"), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rel)
}
