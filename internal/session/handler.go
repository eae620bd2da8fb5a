package session

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

type sessionService interface {
	StartSession(ctx context.Context, userID, testID int64) (*Session, error)
	GetSession(ctx context.Context, userID, sessionID int64, isAdmin bool) (*SessionDetail, error)
	SaveAnswer(ctx context.Context, userID, sessionID, questionID int64, response string) error
	SubmitSession(ctx context.Context, userID, sessionID int64) (*Session, error)
	EvaluateAnswer(ctx context.Context, actorID, answerID int64, score float64) (*Session, error)
	EvaluateAnswers(ctx context.Context, actorID, sessionID int64, items []EvaluateItem) (*Session, error)
}

type Handler struct {
	svc      sessionService
	validate *validator.Validate
}

type startSessionRequest struct {
	TestID int64 `json:"test_id" validate:"required,gt=0"`
}

type saveAnswerRequest struct {
	SessionID  int64  `json:"session_id" validate:"required,gt=0"`
	QuestionID int64  `json:"question_id" validate:"required,gt=0"`
	Response   string `json:"response"`
}

type submitSessionRequest struct {
	SessionID  int64 `json:"session_id" validate:"required,gt=0"`
	AutoSubmit bool  `json:"auto_submit"`
}

type evaluateAnswerRequest struct {
	AnswerID int64   `json:"answer_id" validate:"required,gt=0"`
	Score    float64 `json:"score" validate:"gte=0"`
}

type evaluateAnswersRequest struct {
	SessionID int64                   `json:"session_id" validate:"required,gt=0"`
	Items     []evaluateAnswerRequest `json:"items" validate:"required,min=1,dive"`
}

type submitSessionResponse struct {
	Session *Session `json:"session"`
	Message string   `json:"message"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "test_id is required")
		return
	}

	sess, err := h.svc.StartSession(r.Context(), user.ID, req.TestID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTestNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
		case errors.Is(err, ErrNotAssigned):
			apiresp.WriteError(w, r, http.StatusForbidden, "test is not assigned to you")
		case errors.Is(err, ErrTestNotToday):
			apiresp.WriteError(w, r, http.StatusConflict, "test is not scheduled for today")
		case errors.Is(err, ErrSessionSubmitted):
			apiresp.WriteError(w, r, http.StatusConflict, "test has already been taken")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, sess)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return
	}

	detail, err := h.svc.GetSession(r.Context(), user.ID, id, user.Role == auth.RoleAdmin)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		case errors.Is(err, ErrSessionForbidden):
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, detail)
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "session_id and question_id are required")
		return
	}

	err := h.svc.SaveAnswer(r.Context(), user.ID, req.SessionID, req.QuestionID, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		case errors.Is(err, ErrSessionForbidden):
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		case errors.Is(err, ErrSessionSubmitted):
			apiresp.WriteError(w, r, http.StatusConflict, "session already submitted")
		case errors.Is(err, ErrSessionExpired):
			apiresp.WriteError(w, r, http.StatusConflict, "session time is over")
		case errors.Is(err, ErrQuestionNotInTest):
			apiresp.WriteError(w, r, http.StatusBadRequest, "question is not part of this test")
		case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid answer response")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteOK(w, r, map[string]string{"status": "saved"})
}

func (h *Handler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req submitSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, err := h.svc.SubmitSession(r.Context(), user.ID, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		case errors.Is(err, ErrSessionForbidden):
			apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		case errors.Is(err, ErrSessionSubmitted):
			apiresp.WriteError(w, r, http.StatusConflict, "session already submitted")
		default:
			apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	message := "test submitted"
	if req.AutoSubmit {
		message = "time is over, test submitted automatically"
	}
	apiresp.WriteOK(w, r, submitSessionResponse{Session: sess, Message: message})
}

func (h *Handler) EvaluateAnswer(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req evaluateAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "answer_id and a non-negative score are required")
		return
	}

	sess, err := h.svc.EvaluateAnswer(r.Context(), admin.ID, req.AnswerID, req.Score)
	if err != nil {
		h.writeEvaluateError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, sess)
}

func (h *Handler) EvaluateAnswers(w http.ResponseWriter, r *http.Request) {
	admin, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req evaluateAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "session_id and at least one item are required")
		return
	}

	items := make([]EvaluateItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, EvaluateItem{AnswerID: it.AnswerID, Score: it.Score})
	}

	sess, err := h.svc.EvaluateAnswers(r.Context(), admin.ID, req.SessionID, items)
	if err != nil {
		h.writeEvaluateError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, sess)
}

func (h *Handler) writeEvaluateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAnswerNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "answer not found")
	case errors.Is(err, ErrNotYetSubmitted):
		apiresp.WriteError(w, r, http.StatusConflict, "session is not submitted yet")
	case errors.Is(err, ErrScoreOutOfRange):
		apiresp.WriteError(w, r, http.StatusBadRequest, "score is out of range")
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
