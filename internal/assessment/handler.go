package assessment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quizdesk/internal/app/apiresp"
	"quizdesk/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

type createPositionRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

type createTestRequest struct {
	Name            string  `json:"name" validate:"required,min=1,max=200"`
	PositionID      int64   `json:"position_id" validate:"required,gt=0"`
	TestDate        string  `json:"test_date" validate:"required,datetime=2006-01-02"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,gt=0"`
	GroupIDs        []int64 `json:"group_ids" validate:"required,min=1,dive,gt=0"`
	TraineeIDs      []int64 `json:"trainee_ids" validate:"dive,gt=0"`
}

type updateDecisionRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted rejected"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	p, err := h.svc.CreatePosition(r.Context(), admin.ID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, ErrPositionNameTaken):
			apiresp.WriteError(w, r, http.StatusConflict, "position name already exists")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, p)
}

func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.svc.ListPositions(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, positions)
}

func (h *Handler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid position id")
		return
	}

	if err := h.svc.DeletePosition(r.Context(), admin.ID, id); err != nil {
		switch {
		case errors.Is(err, ErrPositionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "position not found")
		case errors.Is(err, ErrPositionInUse):
			apiresp.WriteError(w, r, http.StatusConflict, "position is used by a test")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, map[string]string{"status": "deleted"})
}

func (h *Handler) CreateTest(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "name, position_id, test_date (YYYY-MM-DD), duration_minutes and group_ids are required")
		return
	}
	testDate, err := time.Parse("2006-01-02", req.TestDate)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "test_date must be YYYY-MM-DD")
		return
	}

	t, err := h.svc.CreateTest(r.Context(), admin.ID, CreateTestInput{
		Name:            req.Name,
		PositionID:      req.PositionID,
		TestDate:        testDate,
		DurationMinutes: req.DurationMinutes,
		GroupIDs:        req.GroupIDs,
		TraineeIDs:      req.TraineeIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPositionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "position not found")
		case errors.Is(err, ErrGroupNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "question group not found")
		case errors.Is(err, ErrTraineeNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "trainee not found")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, t)
}

func (h *Handler) ListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.svc.ListTests(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, tests)
}

func (h *Handler) DeleteTest(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	if err := h.svc.DeleteTest(r.Context(), admin.ID, id); err != nil {
		switch {
		case errors.Is(err, ErrTestNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, map[string]string{"status": "deleted"})
}

func (h *Handler) ListMyAssignedTests(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	assignments, err := h.svc.ListAssignedTests(r.Context(), user.ID)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, assignments)
}

func (h *Handler) UpdateDecision(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid assignment id")
		return
	}

	var req updateDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "status must be accepted or rejected")
		return
	}

	a, err := h.svc.UpdateDecision(r.Context(), admin.ID, id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrAssignmentNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "assigned test not found")
		case errors.Is(err, ErrAssignmentFinalized):
			apiresp.WriteError(w, r, http.StatusConflict, "assigned test already decided")
		case errors.Is(err, ErrInvalidDecision), errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, a)
}
