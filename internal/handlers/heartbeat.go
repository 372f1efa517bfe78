package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/service"
)

// HeartbeatHandler serves the explicit state push and received heartbeats.
type HeartbeatHandler struct {
	heartbeats *service.HeartbeatService
}

func NewHeartbeatHandler(heartbeats *service.HeartbeatService) *HeartbeatHandler {
	return &HeartbeatHandler{heartbeats: heartbeats}
}

func (h *HeartbeatHandler) Push(w http.ResponseWriter, r *http.Request) {
	var in domain.HeartbeatState
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	res, err := h.heartbeats.Push(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, res)
}

func (h *HeartbeatHandler) Received(w http.ResponseWriter, r *http.Request) {
	hbs, err := h.heartbeats.Received(r.Context(), caller(r), r.URL.Query().Get("from"), queryInt(r, "limit", 50))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, hbs)
}

// FriendModelHandler serves the Proxy ToM read surface.
type FriendModelHandler struct {
	models *service.ProxyToMService
}

func NewFriendModelHandler(models *service.ProxyToMService) *FriendModelHandler {
	return &FriendModelHandler{models: models}
}

func (h *FriendModelHandler) List(w http.ResponseWriter, r *http.Request) {
	ms, err := h.models.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ms)
}

func (h *FriendModelHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.models.Get(r.Context(), caller(r), pathVar(r, "clawId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, m)
}

// Overlap reports shared interests between two of the caller's friends.
func (h *FriendModelHandler) Overlap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ov, err := h.models.Overlaps(r.Context(), caller(r), q.Get("a"), q.Get("b"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ov)
}
