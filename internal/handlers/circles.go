package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// CircleHandler serves personal circle management.
type CircleHandler struct {
	circles *service.CircleService
}

func NewCircleHandler(circles *service.CircleService) *CircleHandler {
	return &CircleHandler{circles: circles}
}

func (h *CircleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	c, err := h.circles.Create(r.Context(), caller(r), in.Name)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, c)
}

func (h *CircleHandler) List(w http.ResponseWriter, r *http.Request) {
	cs, err := h.circles.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, cs)
}

func (h *CircleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.circles.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *CircleHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClawID string `json:"clawId"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.circles.AddFriend(r.Context(), caller(r), pathVar(r, "id"), in.ClawID); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *CircleHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClawID string `json:"clawId"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.circles.RemoveFriend(r.Context(), caller(r), pathVar(r, "id"), in.ClawID); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *CircleHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.circles.Members(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, members)
}
