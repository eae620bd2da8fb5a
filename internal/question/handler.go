package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"quizdesk/internal/app/apiresp"
	"quizdesk/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type questionService interface {
	CreateGroup(ctx context.Context, actorID int64, name string) (*Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	DeleteGroup(ctx context.Context, actorID, groupID int64) error
	CreateQuiz(ctx context.Context, actorID, groupID int64, inputs []QuestionInput) ([]Question, error)
	ListQuestionsByGroup(ctx context.Context, groupID int64) ([]Question, error)
	DeleteQuestion(ctx context.Context, actorID, questionID int64) error
}

type Handler struct {
	svc      questionService
	validate *validator.Validate
}

type createGroupRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

type choicePayload struct {
	Text string `json:"text" validate:"required"`
}

type questionPayload struct {
	QuestionText   string          `json:"question_text" validate:"required"`
	QuestionType   string          `json:"question_type" validate:"required,oneof=mcq text"`
	Points         float64         `json:"points" validate:"required,gt=0"`
	Choices        []choicePayload `json:"choices" validate:"dive"`
	CorrectIndices []int           `json:"correct_indices"`
}

type createQuizRequest struct {
	GroupID   int64             `json:"group_id" validate:"required,gt=0"`
	Questions []questionPayload `json:"questions" validate:"required,min=1,dive"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	g, err := h.svc.CreateGroup(r.Context(), admin.ID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, ErrGroupNameTaken):
			apiresp.WriteError(w, r, http.StatusConflict, "question group name already exists")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, g)
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ListGroups(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, groups)
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid group id")
		return
	}

	if err := h.svc.DeleteGroup(r.Context(), admin.ID, id); err != nil {
		switch {
		case errors.Is(err, ErrGroupNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "question group not found")
		case errors.Is(err, ErrGroupInUse):
			apiresp.WriteError(w, r, http.StatusConflict, "question group is used by a test")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, map[string]string{"status": "deleted"})
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "group_id and at least one valid question are required")
		return
	}

	inputs := make([]QuestionInput, 0, len(req.Questions))
	for _, q := range req.Questions {
		choices := make([]ChoiceInput, 0, len(q.Choices))
		for _, c := range q.Choices {
			choices = append(choices, ChoiceInput{Text: c.Text})
		}
		inputs = append(inputs, QuestionInput{
			QuestionText:   q.QuestionText,
			QuestionType:   q.QuestionType,
			Points:         q.Points,
			Choices:        choices,
			CorrectIndices: q.CorrectIndices,
		})
	}

	created, err := h.svc.CreateQuiz(r.Context(), admin.ID, req.GroupID, inputs)
	if err != nil {
		switch {
		case errors.Is(err, ErrGroupNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "question group not found")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, created)
}

func (h *Handler) ListQuestionsByGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid group id")
		return
	}

	questions, err := h.svc.ListQuestionsByGroup(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrGroupNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "question group not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, questions)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}

	if err := h.svc.DeleteQuestion(r.Context(), admin.ID, id); err != nil {
		switch {
		case errors.Is(err, ErrQuestionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "question not found")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, map[string]string{"status": "deleted"})
}
