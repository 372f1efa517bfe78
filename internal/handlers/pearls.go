package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/service"
)

// PearlHandler serves pearl CRUD, endorsements, and shares.
type PearlHandler struct {
	pearls *service.PearlService
	trust  *service.TrustService
}

func NewPearlHandler(pearls *service.PearlService, trust *service.TrustService) *PearlHandler {
	return &PearlHandler{pearls: pearls, trust: trust}
}

func (h *PearlHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.PearlInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	p, err := h.pearls.Create(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, p)
}

func (h *PearlHandler) List(w http.ResponseWriter, r *http.Request) {
	ps, err := h.pearls.List(
		r.Context(),
		caller(r),
		domain.PearlType(r.URL.Query().Get("type")),
		r.URL.Query().Get("tag"),
		queryInt(r, "limit", 50),
	)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ps)
}

func (h *PearlHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.pearls.Get(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, p)
}

func (h *PearlHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.PearlInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	p, err := h.pearls.Update(r.Context(), caller(r), pathVar(r, "id"), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, p)
}

func (h *PearlHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.pearls.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *PearlHandler) Endorse(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Score   float64 `json:"score"`
		Comment string  `json:"comment"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	e, err := h.pearls.Endorse(r.Context(), caller(r), pathVar(r, "id"), in.Score, in.Comment)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, e)
}

func (h *PearlHandler) Endorsements(w http.ResponseWriter, r *http.Request) {
	es, err := h.pearls.Endorsements(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, es)
}

func (h *PearlHandler) Share(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ToClawID string `json:"toClawId"`
		Note     string `json:"note"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	s, err := h.pearls.Share(r.Context(), caller(r), pathVar(r, "id"), in.ToClawID, in.Note)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, s)
}

func (h *PearlHandler) SharedWithMe(w http.ResponseWriter, r *http.Request) {
	ps, err := h.pearls.SharedWithMe(r.Context(), caller(r), queryInt(r, "limit", 50))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ps)
}

// TrustHandler serves the per-domain trust scores.
type TrustHandler struct {
	trust *service.TrustService
}

func NewTrustHandler(trust *service.TrustService) *TrustHandler {
	return &TrustHandler{trust: trust}
}

func (h *TrustHandler) List(w http.ResponseWriter, r *http.Request) {
	ts, err := h.trust.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ts)
}

func (h *TrustHandler) ForFriend(w http.ResponseWriter, r *http.Request) {
	ts, err := h.trust.ForFriend(r.Context(), caller(r), pathVar(r, "clawId"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ts)
}
