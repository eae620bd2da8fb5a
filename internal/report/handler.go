package report

import (
	"errors"
	"net/http"
	"strconv"

	"quizdesk/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListSubmittedSessions(w http.ResponseWriter, r *http.Request) {
	var testID int64
	if raw := r.URL.Query().Get("test_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test_id")
			return
		}
		testID = parsed
	}

	sessions, err := h.svc.ListSubmittedSessions(r.Context(), testID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, sessions)
}

func (h *Handler) SessionReviewDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	review, err := h.svc.SessionReviewDetail(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "submitted session not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, review)
}

func (h *Handler) SummaryByTest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	summary, err := h.svc.SummaryByTest(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrTestNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, summary)
}
