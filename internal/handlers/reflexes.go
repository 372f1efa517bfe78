package handlers

import (
	"net/http"
	"time"

	"github.com/clawbuds/backend/internal/service"
)

// ReflexHandler serves reflex CRUD, the execution log, and the micro-molt
// suggestion surface.
type ReflexHandler struct {
	reflexes *service.ReflexService
	molt     *service.MicroMoltService
}

func NewReflexHandler(reflexes *service.ReflexService, molt *service.MicroMoltService) *ReflexHandler {
	return &ReflexHandler{reflexes: reflexes, molt: molt}
}

func (h *ReflexHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.ReflexInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	rf, err := h.reflexes.Create(r.Context(), caller(r), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, rf)
}

func (h *ReflexHandler) List(w http.ResponseWriter, r *http.Request) {
	rfs, err := h.reflexes.List(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rfs)
}

func (h *ReflexHandler) Get(w http.ResponseWriter, r *http.Request) {
	rf, err := h.reflexes.Get(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rf)
}

func (h *ReflexHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.ReflexUpdate
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	rf, err := h.reflexes.Update(r.Context(), caller(r), pathVar(r, "id"), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, rf)
}

func (h *ReflexHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.reflexes.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *ReflexHandler) Executions(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		Fail(w, r, err)
		return
	}
	execs, err := h.reflexes.Executions(
		r.Context(),
		caller(r),
		pathVar(r, "id"),
		since,
		r.URL.Query().Get("result"),
		queryInt(r, "limit", 100),
	)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, execs)
}

func (h *ReflexHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	stats, err := h.reflexes.Stats(r.Context(), caller(r), time.Duration(days)*24*time.Hour)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, stats)
}

func (h *ReflexHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	sug, err := h.molt.Suggestions(r.Context(), caller(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, sug)
}
