package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizdesk/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type mockQuestionService struct {
	createGroupFn          func(ctx context.Context, actorID int64, name string) (*Group, error)
	listGroupsFn           func(ctx context.Context) ([]Group, error)
	deleteGroupFn          func(ctx context.Context, actorID, groupID int64) error
	createQuizFn           func(ctx context.Context, actorID, groupID int64, inputs []QuestionInput) ([]Question, error)
	listQuestionsByGroupFn func(ctx context.Context, groupID int64) ([]Question, error)
	deleteQuestionFn       func(ctx context.Context, actorID, questionID int64) error
}

func (m *mockQuestionService) CreateGroup(ctx context.Context, actorID int64, name string) (*Group, error) {
	if m.createGroupFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createGroupFn(ctx, actorID, name)
}

func (m *mockQuestionService) ListGroups(ctx context.Context) ([]Group, error) {
	if m.listGroupsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listGroupsFn(ctx)
}

func (m *mockQuestionService) DeleteGroup(ctx context.Context, actorID, groupID int64) error {
	if m.deleteGroupFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteGroupFn(ctx, actorID, groupID)
}

func (m *mockQuestionService) CreateQuiz(ctx context.Context, actorID, groupID int64, inputs []QuestionInput) ([]Question, error) {
	if m.createQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createQuizFn(ctx, actorID, groupID, inputs)
}

func (m *mockQuestionService) ListQuestionsByGroup(ctx context.Context, groupID int64) ([]Question, error) {
	if m.listQuestionsByGroupFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listQuestionsByGroupFn(ctx, groupID)
}

func (m *mockQuestionService) DeleteQuestion(ctx context.Context, actorID, questionID int64) error {
	if m.deleteQuestionFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteQuestionFn(ctx, actorID, questionID)
}

func newTestHandler(svc questionService) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func adminRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	user := &auth.User{ID: 1, Username: "admin", Role: auth.RoleAdmin, IsActive: true}
	return req.WithContext(auth.ContextWithUser(req.Context(), user))
}

func TestCreateQuizForwardsQuestions(t *testing.T) {
	svc := &mockQuestionService{
		createQuizFn: func(ctx context.Context, actorID, groupID int64, inputs []QuestionInput) ([]Question, error) {
			if groupID != 3 || len(inputs) != 2 {
				t.Fatalf("unexpected args: group=%d inputs=%d", groupID, len(inputs))
			}
			if inputs[0].QuestionType != "mcq" || len(inputs[0].Choices) != 3 {
				t.Fatalf("mcq input not forwarded: %+v", inputs[0])
			}
			if inputs[1].QuestionType != "text" {
				t.Fatalf("text input not forwarded: %+v", inputs[1])
			}
			return []Question{{ID: 10}, {ID: 11}}, nil
		},
	}
	h := newTestHandler(svc)

	body, _ := json.Marshal(map[string]any{
		"group_id": 3,
		"questions": []map[string]any{
			{
				"question_text":   "Pick two",
				"question_type":   "mcq",
				"points":          5,
				"choices":         []map[string]any{{"text": "a"}, {"text": "b"}, {"text": "c"}},
				"correct_indices": []int{0, 2},
			},
			{
				"question_text": "Explain",
				"question_type": "text",
				"points":        10,
			},
		},
	})
	rec := httptest.NewRecorder()
	h.CreateQuiz(rec, adminRequest(http.MethodPost, "/api/v1/admin/quiz", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateQuizRejectsEmptyBatch(t *testing.T) {
	h := newTestHandler(&mockQuestionService{})

	body, _ := json.Marshal(map[string]any{"group_id": 3, "questions": []map[string]any{}})
	rec := httptest.NewRecorder()
	h.CreateQuiz(rec, adminRequest(http.MethodPost, "/api/v1/admin/quiz", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateQuizValidationError(t *testing.T) {
	svc := &mockQuestionService{
		createQuizFn: func(ctx context.Context, actorID, groupID int64, inputs []QuestionInput) ([]Question, error) {
			return nil, ValidateQuestionInput(inputs[0])
		},
	}
	h := newTestHandler(svc)

	body, _ := json.Marshal(map[string]any{
		"group_id": 3,
		"questions": []map[string]any{
			{
				"question_text":   "Pick one",
				"question_type":   "mcq",
				"points":          5,
				"choices":         []map[string]any{{"text": "a"}, {"text": "b"}},
				"correct_indices": []int{5},
			},
		},
	})
	rec := httptest.NewRecorder()
	h.CreateQuiz(rec, adminRequest(http.MethodPost, "/api/v1/admin/quiz", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeleteGroupErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", ErrGroupNotFound, http.StatusNotFound},
		{"in use", ErrGroupInUse, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockQuestionService{
				deleteGroupFn: func(ctx context.Context, actorID, groupID int64) error {
					return tc.err
				},
			}
			h := newTestHandler(svc)

			r := chi.NewRouter()
			r.Delete("/api/v1/admin/question-groups/{id}", h.DeleteGroup)

			req := adminRequest(http.MethodDelete, "/api/v1/admin/question-groups/9", nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestCreateGroupConflict(t *testing.T) {
	svc := &mockQuestionService{
		createGroupFn: func(ctx context.Context, actorID int64, name string) (*Group, error) {
			return nil, ErrGroupNameTaken
		},
	}
	h := newTestHandler(svc)

	body, _ := json.Marshal(map[string]any{"name": "Aptitude"})
	rec := httptest.NewRecorder()
	h.CreateGroup(rec, adminRequest(http.MethodPost, "/api/v1/admin/question-groups", body))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
