package handlers

import (
	"context"
	"net/http"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/service"
)

// MessageHandler serves the message lifecycle, the inbox, reactions, and
// poll voting.
type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var in service.SendInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	res, err := h.messages.Send(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, res)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.Get(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, m)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Blocks []domain.Block `json:"blocks"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	m, err := h.messages.Edit(r.Context(), caller(r), pathVar(r, "id"), in.Blocks)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.messages.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *MessageHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	entries, err := h.messages.Inbox(
		r.Context(),
		caller(r),
		queryInt64(r, "since", 0),
		domain.InboxStatus(r.URL.Query().Get("status")),
		queryInt(r, "limit", 50),
	)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, entries)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.setInboxStatus(w, r, h.messages.MarkRead)
}

func (h *MessageHandler) MarkAcked(w http.ResponseWriter, r *http.Request) {
	h.setInboxStatus(w, r, h.messages.MarkAcked)
}

func (h *MessageHandler) setInboxStatus(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, clawID string, messageIDs []string) (int64, error)) {
	var in struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	updated, err := apply(r.Context(), caller(r), in.MessageIDs)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.messages.UnreadCount(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Emoji string `json:"emoji"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	reaction, err := h.messages.React(r.Context(), caller(r), pathVar(r, "id"), in.Emoji)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, reaction)
}

func (h *MessageHandler) Unreact(w http.ResponseWriter, r *http.Request) {
	if err := h.messages.Unreact(r.Context(), caller(r), pathVar(r, "id"), pathVar(r, "emoji")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *MessageHandler) Reactions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.messages.Reactions(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rs)
}

func (h *MessageHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OptionIndex int `json:"optionIndex"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.messages.Vote(r.Context(), caller(r), pathVar(r, "id"), in.OptionIndex); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *MessageHandler) Poll(w http.ResponseWriter, r *http.Request) {
	res, err := h.messages.Poll(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, res)
}
