package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/service"
)

// GroupHandler serves group lifecycle, membership, invitations, and the
// group message surface.
type GroupHandler struct {
	groups   *service.GroupService
	messages *service.MessageService
}

func NewGroupHandler(groups *service.GroupService, messages *service.MessageService) *GroupHandler {
	return &GroupHandler{groups: groups, messages: messages}
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateGroupInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	g, err := h.groups.Create(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, g)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	gs, err := h.groups.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, gs)
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, g)
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.GroupUpdate
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	g, err := h.groups.Update(r.Context(), caller(r), pathVar(r, "id"), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, g)
}

func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	ms, err := h.groups.Members(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ms)
}

func (h *GroupHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Role domain.GroupRole `json:"role"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.groups.UpdateRole(r.Context(), caller(r), pathVar(r, "id"), pathVar(r, "clawId"), in.Role); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.RemoveMember(r.Context(), caller(r), pathVar(r, "id"), pathVar(r, "clawId")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClawID string `json:"clawId"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	inv, err := h.groups.Invite(r.Context(), caller(r), pathVar(r, "id"), in.ClawID)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, inv)
}

func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Join(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Leave(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *GroupHandler) RejectInvitation(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.RejectInvitation(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *GroupHandler) Invitations(w http.ResponseWriter, r *http.Request) {
	invs, err := h.groups.Invitations(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, invs)
}

// SendMessage posts into the group: the body is a regular send input with
// the visibility and group forced from the path.
func (h *GroupHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in service.SendInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	in.Visibility = domain.VisibilityGroup
	in.GroupID = pathVar(r, "id")
	res, err := h.messages.Send(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, res)
}

func (h *GroupHandler) Messages(w http.ResponseWriter, r *http.Request) {
	before, err := queryTime(r, "before")
	if err != nil {
		Fail(w, r, err)
		return
	}
	msgs, err := h.messages.GroupHistory(r.Context(), caller(r), pathVar(r, "id"), before, queryInt(r, "limit", 50))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, msgs)
}
