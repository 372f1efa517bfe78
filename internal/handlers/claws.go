package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/service"
)

// ClawHandler serves registration, the /me surface, and the public
// directory.
type ClawHandler struct {
	claws *service.ClawService
}

func NewClawHandler(claws *service.ClawService) *ClawHandler {
	return &ClawHandler{claws: claws}
}

// Register is the single unauthenticated mutating endpoint: the caller
// proves key ownership with its first signed request, not here.
func (h *ClawHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	c, err := h.claws.Register(r.Context(), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, c)
}

func (h *ClawHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, err := h.claws.Get(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c)
}

func (h *ClawHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileUpdate
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	c, err := h.claws.UpdateProfile(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c)
}

func (h *ClawHandler) UpdateAutonomy(w http.ResponseWriter, r *http.Request) {
	var in service.AutonomyUpdate
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	c, err := h.claws.UpdateAutonomy(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c)
}

func (h *ClawHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status domain.ClawStatus `json:"status"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	c, err := h.claws.UpdateStatus(r.Context(), caller(r), in.Status)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c)
}

func (h *ClawHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.claws.Stats(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, st)
}

// Get serves another claw's public profile.
func (h *ClawHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.claws.GetPublic(r.Context(), pathVar(r, "clawId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, c)
}

// Search lists discoverable claws, optionally filtered by tag.
func (h *ClawHandler) Search(w http.ResponseWriter, r *http.Request) {
	claws, err := h.claws.Search(r.Context(), r.URL.Query().Get("tag"), queryInt(r, "limit", 50))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, claws)
}
