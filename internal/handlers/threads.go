package handlers

import (
	"net/http"

	"github.com/clawbuds/backend/internal/service"
)

// ThreadHandler serves collaborative threads and their contributions.
type ThreadHandler struct {
	threads *service.ThreadService
}

func NewThreadHandler(threads *service.ThreadService) *ThreadHandler {
	return &ThreadHandler{threads: threads}
}

func (h *ThreadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title string `json:"title"`
	}
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	t, err := h.threads.Create(r.Context(), caller(r), in.Title)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, t)
}

func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	ts, err := h.threads.List(r.Context(), caller(r), queryInt(r, "limit", 50))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, ts)
}

func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.threads.Get(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, t)
}

func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.threads.Delete(r.Context(), caller(r), pathVar(r, "id")); err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, nil)
}

func (h *ThreadHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	var in service.ContributionInput
	if err := decode(r, &in); err != nil {
		Fail(w, r, err)
		return
	}
	c, err := h.threads.Contribute(r.Context(), caller(r), pathVar(r, "id"), in)
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusCreated, c)
}

func (h *ThreadHandler) Contributions(w http.ResponseWriter, r *http.Request) {
	cs, err := h.threads.Contributions(r.Context(), caller(r), pathVar(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	OK(w, http.StatusOK, cs)
}
