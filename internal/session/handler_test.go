package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quizdesk/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type mockSessionService struct {
	startFn           func(ctx context.Context, userID, testID int64) (*Session, error)
	getFn             func(ctx context.Context, userID, sessionID int64, isAdmin bool) (*SessionDetail, error)
	saveAnswerFn      func(ctx context.Context, userID, sessionID, questionID int64, response string) error
	submitFn          func(ctx context.Context, userID, sessionID int64) (*Session, error)
	evaluateAnswerFn  func(ctx context.Context, actorID, answerID int64, score float64) (*Session, error)
	evaluateAnswersFn func(ctx context.Context, actorID, sessionID int64, items []EvaluateItem) (*Session, error)
}

func (m *mockSessionService) StartSession(ctx context.Context, userID, testID int64) (*Session, error) {
	return m.startFn(ctx, userID, testID)
}

func (m *mockSessionService) GetSession(ctx context.Context, userID, sessionID int64, isAdmin bool) (*SessionDetail, error) {
	return m.getFn(ctx, userID, sessionID, isAdmin)
}

func (m *mockSessionService) SaveAnswer(ctx context.Context, userID, sessionID, questionID int64, response string) error {
	return m.saveAnswerFn(ctx, userID, sessionID, questionID, response)
}

func (m *mockSessionService) SubmitSession(ctx context.Context, userID, sessionID int64) (*Session, error) {
	return m.submitFn(ctx, userID, sessionID)
}

func (m *mockSessionService) EvaluateAnswer(ctx context.Context, actorID, answerID int64, score float64) (*Session, error) {
	return m.evaluateAnswerFn(ctx, actorID, answerID, score)
}

func (m *mockSessionService) EvaluateAnswers(ctx context.Context, actorID, sessionID int64, items []EvaluateItem) (*Session, error) {
	return m.evaluateAnswersFn(ctx, actorID, sessionID, items)
}

func newTestHandler(svc sessionService) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func authedRequest(method, target string, body []byte, user *auth.User) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return req.WithContext(auth.ContextWithUser(req.Context(), user))
}

func trainee() *auth.User {
	return &auth.User{ID: 7, Username: "trainee1", Role: auth.RoleTrainee, IsActive: true}
}

func admin() *auth.User {
	return &auth.User{ID: 1, Username: "admin", Role: auth.RoleAdmin, IsActive: true}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestStartSessionHappyPath(t *testing.T) {
	svc := &mockSessionService{
		startFn: func(ctx context.Context, userID, testID int64) (*Session, error) {
			if userID != 7 || testID != 42 {
				t.Fatalf("unexpected args: user=%d test=%d", userID, testID)
			}
			return &Session{ID: 100, TestID: testID, UserID: userID}, nil
		},
	}
	h := newTestHandler(svc)

	body, _ := json.Marshal(map[string]any{"test_id": 42})
	rec := httptest.NewRecorder()
	h.StartSession(rec, authedRequest(http.MethodPost, "/api/v1/session/start", body, trainee()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	if payload["ok"] != true {
		t.Fatalf("expected ok response, got %v", payload)
	}
}

func TestStartSessionErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not assigned", ErrNotAssigned, http.StatusForbidden},
		{"not today", ErrTestNotToday, http.StatusConflict},
		{"already taken", ErrSessionSubmitted, http.StatusConflict},
		{"test missing", ErrTestNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockSessionService{
				startFn: func(ctx context.Context, userID, testID int64) (*Session, error) {
					return nil, tc.err
				},
			}
			h := newTestHandler(svc)

			body, _ := json.Marshal(map[string]any{"test_id": 42})
			rec := httptest.NewRecorder()
			h.StartSession(rec, authedRequest(http.MethodPost, "/api/v1/session/start", body, trainee()))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestStartSessionRequiresAuth(t *testing.T) {
	h := newTestHandler(&mockSessionService{})

	body, _ := json.Marshal(map[string]any{"test_id": 42})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.StartSession(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetSessionUsesRouteParam(t *testing.T) {
	svc := &mockSessionService{
		getFn: func(ctx context.Context, userID, sessionID int64, isAdmin bool) (*SessionDetail, error) {
			if sessionID != 55 {
				t.Fatalf("sessionID = %d, want 55", sessionID)
			}
			if isAdmin {
				t.Fatalf("trainee request flagged as admin")
			}
			return &SessionDetail{Session: Session{ID: sessionID, UserID: userID}}, nil
		},
	}
	h := newTestHandler(svc)

	r := chi.NewRouter()
	r.Get("/api/v1/session/{id}", h.GetSession)

	req := authedRequest(http.MethodGet, "/api/v1/session/55", nil, trainee())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSaveAnswerErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"expired", ErrSessionExpired, http.StatusConflict},
		{"submitted", ErrSessionSubmitted, http.StatusConflict},
		{"foreign session", ErrSessionForbidden, http.StatusForbidden},
		{"question not in test", ErrQuestionNotInTest, http.StatusBadRequest},
		{"bad response", ErrInvalidResponse, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockSessionService{
				saveAnswerFn: func(ctx context.Context, userID, sessionID, questionID int64, response string) error {
					return tc.err
				},
			}
			h := newTestHandler(svc)

			body, _ := json.Marshal(map[string]any{"session_id": 1, "question_id": 2, "response": "0,2"})
			rec := httptest.NewRecorder()
			h.SaveAnswer(rec, authedRequest(http.MethodPost, "/api/v1/session/answer", body, trainee()))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestSubmitSessionAutoSubmitMessage(t *testing.T) {
	svc := &mockSessionService{
		submitFn: func(ctx context.Context, userID, sessionID int64) (*Session, error) {
			return &Session{ID: sessionID, UserID: userID, Submitted: true}, nil
		},
	}
	h := newTestHandler(svc)

	for _, tc := range []struct {
		autoSubmit  bool
		wantMessage string
	}{
		{false, "test submitted"},
		{true, "time is over, test submitted automatically"},
	} {
		body, _ := json.Marshal(map[string]any{"session_id": 9, "auto_submit": tc.autoSubmit})
		rec := httptest.NewRecorder()
		h.SubmitSession(rec, authedRequest(http.MethodPost, "/api/v1/session/submit", body, trainee()))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		payload := decodeEnvelope(t, rec)
		data, _ := payload["data"].(map[string]any)
		if data["message"] != tc.wantMessage {
			t.Fatalf("message = %v, want %q", data["message"], tc.wantMessage)
		}
	}
}

func TestEvaluateAnswerErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"answer missing", ErrAnswerNotFound, http.StatusNotFound},
		{"not submitted", ErrNotYetSubmitted, http.StatusConflict},
		{"score too high", ErrScoreOutOfRange, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockSessionService{
				evaluateAnswerFn: func(ctx context.Context, actorID, answerID int64, score float64) (*Session, error) {
					return nil, tc.err
				},
			}
			h := newTestHandler(svc)

			body, _ := json.Marshal(map[string]any{"answer_id": 3, "score": 4.5})
			rec := httptest.NewRecorder()
			h.EvaluateAnswer(rec, authedRequest(http.MethodPost, "/api/v1/admin/evaluate-answer", body, admin()))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestEvaluateAnswersForwardsItems(t *testing.T) {
	svc := &mockSessionService{
		evaluateAnswersFn: func(ctx context.Context, actorID, sessionID int64, items []EvaluateItem) (*Session, error) {
			if sessionID != 12 || len(items) != 2 {
				t.Fatalf("unexpected args: session=%d items=%d", sessionID, len(items))
			}
			if items[0].AnswerID != 30 || items[1].Score != 2 {
				t.Fatalf("items not forwarded: %+v", items)
			}
			return &Session{ID: sessionID, Submitted: true, TotalScore: 7}, nil
		},
	}
	h := newTestHandler(svc)

	body, _ := json.Marshal(map[string]any{
		"session_id": 12,
		"items": []map[string]any{
			{"answer_id": 30, "score": 5},
			{"answer_id": 31, "score": 2},
		},
	})
	rec := httptest.NewRecorder()
	h.EvaluateAnswers(rec, authedRequest(http.MethodPost, "/api/v1/admin/evaluate-answers", body, admin()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
