package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// FriendHandler serves friendship requests and the friend list.
type FriendHandler struct {
	friends *service.FriendService
}

func NewFriendHandler(friends *service.FriendService) *FriendHandler {
	return &FriendHandler{friends: friends}
}

func (h *FriendHandler) Request(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClawID string `json:"clawId"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	f, err := h.friends.Request(r.Context(), caller(r), in.ClawID)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, f)
}

func (h *FriendHandler) Requests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.friends.ListRequests(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, reqs)
}

func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FriendshipID string `json:"friendshipId"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	f, err := h.friends.Accept(r.Context(), caller(r), in.FriendshipID)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, f)
}

func (h *FriendHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FriendshipID string `json:"friendshipId"`
		Block        bool   `json:"block"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.friends.Reject(r.Context(), caller(r), in.FriendshipID, in.Block); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	friends, err := h.friends.ListFriends(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, friends)
}

func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.friends.Remove(r.Context(), caller(r), pathVar(r, "clawId")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}
