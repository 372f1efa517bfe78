package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/realtime"
	"github.com/clawbuds/backend/internal/webhooks"
)

// WebhookHandler serves webhook registration, the delivery log, and the
// inbound receiver endpoint.
type WebhookHandler struct {
	service *webhooks.Service
	rt      realtime.Service
}

func NewWebhookHandler(service *webhooks.Service, rt realtime.Service) *WebhookHandler {
	return &WebhookHandler{service: service, rt: rt}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in webhooks.CreateParams
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	wh, err := h.service.Create(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, wh)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	whs, err := h.service.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, whs)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	wh, err := h.service.Get(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in webhooks.UpdateParams
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	wh, err := h.service.Update(r.Context(), caller(r), pathVar(r, "id"), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	ds, err := h.service.Deliveries(r.Context(), caller(r), pathVar(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ds)
}

// Incoming receives an externally-pushed payload for a named incoming
// webhook. Authentication is the HMAC signature header, not the claw
// signature scheme; on success the payload is republished to the owner's
// realtime channel.
func (h *WebhookHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	clawID := pathVar(r, "clawId")
	name := pathVar(r, "name")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		Fail(w, r, domain.Invalid(domain.CodeValidation, "could not read body"))
		return
	}
	wh, err := h.service.VerifyIncoming(r.Context(), clawID, name, body, r.Header.Get(webhooks.HeaderSignature))
	if err != nil {
		Fail(w, r, err)
		return
	}

	frame, err := json.Marshal(map[string]interface{}{
		"type": "webhook.incoming",
		"data": map[string]interface{}{
			"webhookId": wh.ID,
			"name":      wh.Name,
			"payload":   json.RawMessage(body),
		},
	})
	if err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.rt.SendToUser(r.Context(), clawID, frame); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("claw", clawID).Msg("incoming webhook push failed")
	}
	OK(w, http.StatusOK, map[string]string{"delivered": wh.ID})
}
