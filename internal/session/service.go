package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrTestNotFound      = errors.New("test not found")
	ErrNotAssigned       = errors.New("test is not assigned to this trainee")
	ErrTestNotToday      = errors.New("test is not scheduled for today")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionForbidden  = errors.New("session belongs to another trainee")
	ErrSessionSubmitted  = errors.New("session already submitted")
	ErrSessionExpired    = errors.New("session time is over")
	ErrQuestionNotInTest = errors.New("question is not part of this test")
	ErrInvalidResponse   = errors.New("invalid answer response")
	ErrAnswerNotFound    = errors.New("answer not found")
	ErrNotYetSubmitted   = errors.New("session is not submitted yet")
	ErrScoreOutOfRange   = errors.New("score is out of range")
)

type Service struct {
	db *sql.DB
}

type Session struct {
	ID         int64      `json:"id"`
	TestID     int64      `json:"test_id"`
	UserID     int64      `json:"user_id"`
	StartedAt  time.Time  `json:"started_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Submitted  bool       `json:"submitted"`
	TotalScore float64    `json:"total_score"`
}

type ChoiceView struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type QuestionView struct {
	ID           int64        `json:"id"`
	QuestionText string       `json:"question_text"`
	QuestionType string       `json:"question_type"`
	Points       float64      `json:"points"`
	Choices      []ChoiceView `json:"choices,omitempty"`
}

type AnswerView struct {
	ID         int64    `json:"id"`
	QuestionID int64    `json:"question_id"`
	Response   string   `json:"response"`
	AutoScore  *float64 `json:"auto_score,omitempty"`
	GivenScore *float64 `json:"given_score,omitempty"`
}

type SessionDetail struct {
	Session
	TestName        string         `json:"test_name"`
	DurationMinutes int            `json:"duration_minutes"`
	Questions       []QuestionView `json:"questions"`
	Answers         []AnswerView   `json:"answers"`
}

type EvaluateItem struct {
	AnswerID int64
	Score    float64
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// StartSession opens a timed session for an assigned test scheduled for
// today. Starting twice returns the already-open session. Concurrent
// starts are serialized by the partial unique index on open sessions.
func (s *Service) StartSession(ctx context.Context, userID, testID int64) (*Session, error) {
	if userID <= 0 || testID <= 0 {
		return nil, ErrInvalidInput
	}

	var durationMinutes int
	var isToday, assigned bool
	err := s.db.QueryRowContext(ctx, `
		SELECT t.duration_minutes,
		       t.test_date = CURRENT_DATE,
		       EXISTS (SELECT 1 FROM assigned_tests a WHERE a.test_id = t.id AND a.user_id = $2)
		FROM tests t
		WHERE t.id = $1
	`, testID, userID).Scan(&durationMinutes, &isToday, &assigned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	if !assigned {
		return nil, ErrNotAssigned
	}
	if !isToday {
		return nil, ErrTestNotToday
	}

	// Close out a stale open session before looking for one to resume.
	if sess, err := s.openSession(ctx, userID, testID); err != nil {
		return nil, err
	} else if sess != nil {
		if time.Now().After(sess.ExpiresAt) {
			if err := s.finalize(ctx, sess.ID, sess.ExpiresAt); err != nil && !errors.Is(err, ErrSessionSubmitted) {
				return nil, err
			}
		} else {
			return sess, nil
		}
	}

	var taken bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM test_sessions WHERE user_id = $1 AND test_id = $2 AND submitted)
	`, userID, testID).Scan(&taken); err != nil {
		return nil, fmt.Errorf("check previous session: %w", err)
	}
	if taken {
		return nil, ErrSessionSubmitted
	}

	startedAt := time.Now()
	expiresAt := startedAt.Add(time.Duration(durationMinutes) * time.Minute)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_sessions (test_id, user_id, started_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (user_id, test_id) WHERE NOT submitted DO NOTHING
	`, testID, userID, startedAt, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	// Reselect instead of RETURNING so the loser of a concurrent start
	// picks up the winner's row.
	sess, err := s.openSession(ctx, userID, testID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionSubmitted
	}
	return sess, nil
}

// GetSession loads a session with its questions and recorded answers.
// Reading an expired open session finalizes it first, with ended_at set
// to the deadline rather than the read time.
func (s *Service) GetSession(ctx context.Context, userID, sessionID int64, isAdmin bool) (*SessionDetail, error) {
	sess, testName, durationMinutes, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && sess.UserID != userID {
		return nil, ErrSessionForbidden
	}

	if !sess.Submitted && time.Now().After(sess.ExpiresAt) {
		if err := s.finalize(ctx, sess.ID, sess.ExpiresAt); err != nil && !errors.Is(err, ErrSessionSubmitted) {
			return nil, err
		}
		sess, testName, durationMinutes, err = s.loadSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	detail := &SessionDetail{
		Session:         *sess,
		TestName:        testName,
		DurationMinutes: durationMinutes,
	}
	detail.Questions, err = s.loadQuestions(ctx, sess.TestID)
	if err != nil {
		return nil, err
	}
	detail.Answers, err = s.loadAnswers(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// SaveAnswer upserts the trainee's response to one question. Saving the
// same response again is a harmless no-op so client autosave can fire
// freely. An empty MCQ response clears the selection.
func (s *Service) SaveAnswer(ctx context.Context, userID, sessionID, questionID int64, response string) error {
	if sessionID <= 0 || questionID <= 0 {
		return ErrInvalidInput
	}

	sess, _, _, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrSessionForbidden
	}
	if sess.Submitted {
		return ErrSessionSubmitted
	}
	if time.Now().After(sess.ExpiresAt) {
		if err := s.finalize(ctx, sess.ID, sess.ExpiresAt); err != nil && !errors.Is(err, ErrSessionSubmitted) {
			return err
		}
		return ErrSessionExpired
	}

	var questionType string
	var choiceCount int
	err = s.db.QueryRowContext(ctx, `
		SELECT q.question_type,
		       (SELECT COUNT(*) FROM question_choices c WHERE c.question_id = q.id)
		FROM questions q
		JOIN test_groups tg ON tg.group_id = q.group_id
		WHERE q.id = $1 AND tg.test_id = $2
	`, questionID, sess.TestID).Scan(&questionType, &choiceCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotInTest
		}
		return fmt.Errorf("load question: %w", err)
	}

	if questionType == "mcq" {
		indices, ok := ParseResponse(strings.TrimSpace(response))
		if !ok {
			return ErrInvalidResponse
		}
		for _, idx := range indices {
			if idx >= choiceCount {
				return ErrInvalidResponse
			}
		}
		response = FormatResponse(indices)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_answers (session_id, question_id, response, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (session_id, question_id)
		DO UPDATE SET response = EXCLUDED.response, updated_at = now()
		WHERE user_answers.response IS DISTINCT FROM EXCLUDED.response
	`, sessionID, questionID, response)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// SubmitSession finalizes the session. The autoSubmit flag only changes
// the message the handler returns; the stored outcome is identical.
// Submitting past the deadline records the deadline as ended_at.
func (s *Service) SubmitSession(ctx context.Context, userID, sessionID int64) (*Session, error) {
	sess, _, _, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionForbidden
	}
	if sess.Submitted {
		return nil, ErrSessionSubmitted
	}

	endedAt := time.Now()
	if endedAt.After(sess.ExpiresAt) {
		endedAt = sess.ExpiresAt
	}
	if err := s.finalize(ctx, sessionID, endedAt); err != nil {
		return nil, err
	}

	sess, _, _, err = s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// finalize is the single place a session transitions to submitted. It
// auto-scores the unscored MCQ answers, totals the session and stamps ended_at
// inside one transaction. Finalizing twice returns ErrSessionSubmitted.
func (s *Service) finalize(ctx context.Context, sessionID int64, endedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var submitted bool
	err = tx.QueryRowContext(ctx, `
		SELECT submitted FROM test_sessions WHERE id = $1 FOR UPDATE
	`, sessionID).Scan(&submitted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("lock session: %w", err)
	}
	if submitted {
		return ErrSessionSubmitted
	}

	evals, err := s.loadMCQEvaluations(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	for _, ev := range evals {
		score := ScoreMCQ(ev.Response, ev.Correct, ev.Points)
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_answers SET auto_score = $2, updated_at = now() WHERE id = $1
		`, ev.AnswerID, score); err != nil {
			return fmt.Errorf("write auto score: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE test_sessions
		SET submitted = TRUE,
		    ended_at = $2,
		    total_score = (
			SELECT COALESCE(SUM(
				CASE WHEN q.question_type = 'mcq'
				     THEN COALESCE(ua.auto_score, 0)
				     ELSE COALESCE(ua.given_score, 0)
				END
			), 0)
			FROM user_answers ua
			JOIN questions q ON q.id = ua.question_id
			WHERE ua.session_id = $1
		    ),
		    updated_at = now()
		WHERE id = $1
	`, sessionID, endedAt); err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

type mcqEvalRow struct {
	AnswerID int64
	Response string
	Points   float64
	Correct  []int
}

// loadMCQEvaluations returns the session's MCQ answers that still need an
// auto score, each with the question's correct choice indices. Answers
// already scored are left alone.
func (s *Service) loadMCQEvaluations(ctx context.Context, tx *sql.Tx, sessionID int64) ([]mcqEvalRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT ua.id, ua.response, q.points,
		       COALESCE(
			       json_agg(c.choice_index ORDER BY c.choice_index) FILTER (WHERE c.is_correct),
			       '[]'::json
		       ) AS correct_json
		FROM user_answers ua
		JOIN questions q ON q.id = ua.question_id
		LEFT JOIN question_choices c ON c.question_id = q.id
		WHERE ua.session_id = $1
		  AND q.question_type = 'mcq'
		  AND ua.auto_score IS NULL
		GROUP BY ua.id, ua.response, q.points
		ORDER BY ua.id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	out := make([]mcqEvalRow, 0)
	for rows.Next() {
		var ev mcqEvalRow
		var correctJSON []byte
		if err := rows.Scan(&ev.AnswerID, &ev.Response, &ev.Points, &correctJSON); err != nil {
			return nil, fmt.Errorf("scan evaluation row: %w", err)
		}
		if len(correctJSON) > 0 {
			if err := json.Unmarshal(correctJSON, &ev.Correct); err != nil {
				return nil, fmt.Errorf("decode correct indices json: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return out, nil
}

// EvaluateAnswer records a manual score for one answer of a submitted
// session and recomputes the session total.
func (s *Service) EvaluateAnswer(ctx context.Context, actorID, answerID int64, score float64) (*Session, error) {
	if answerID <= 0 {
		return nil, ErrInvalidInput
	}
	return s.evaluate(ctx, actorID, 0, []EvaluateItem{{AnswerID: answerID, Score: score}})
}

// EvaluateAnswers scores a batch of answers that must all belong to the
// given session, then recomputes the total once.
func (s *Service) EvaluateAnswers(ctx context.Context, actorID, sessionID int64, items []EvaluateItem) (*Session, error) {
	if sessionID <= 0 || len(items) == 0 {
		return nil, ErrInvalidInput
	}
	return s.evaluate(ctx, actorID, sessionID, items)
}

func (s *Service) evaluate(ctx context.Context, actorID, sessionID int64, items []EvaluateItem) (*Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin evaluate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range items {
		var ansSessionID int64
		var points float64
		var submitted bool
		err := tx.QueryRowContext(ctx, `
			SELECT ua.session_id, q.points, ts.submitted
			FROM user_answers ua
			JOIN questions q ON q.id = ua.question_id
			JOIN test_sessions ts ON ts.id = ua.session_id
			WHERE ua.id = $1
			FOR UPDATE OF ua, ts
		`, item.AnswerID).Scan(&ansSessionID, &points, &submitted)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrAnswerNotFound
			}
			return nil, fmt.Errorf("load answer: %w", err)
		}
		if sessionID == 0 {
			sessionID = ansSessionID
		}
		if ansSessionID != sessionID {
			return nil, fmt.Errorf("%w: answer %d", ErrAnswerNotFound, item.AnswerID)
		}
		if !submitted {
			return nil, ErrNotYetSubmitted
		}
		if item.Score < 0 || item.Score > points {
			return nil, ErrScoreOutOfRange
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE user_answers SET given_score = $2, updated_at = now() WHERE id = $1
		`, item.AnswerID, item.Score); err != nil {
			return nil, fmt.Errorf("update answer score: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE test_sessions
		SET total_score = (
			SELECT COALESCE(SUM(
				CASE WHEN q.question_type = 'mcq'
				     THEN COALESCE(ua.auto_score, 0)
				     ELSE COALESCE(ua.given_score, 0)
				END
			), 0)
			FROM user_answers ua
			JOIN questions q ON q.id = ua.question_id
			WHERE ua.session_id = $1
		    ),
		    updated_at = now()
		WHERE id = $1
	`, sessionID); err != nil {
		return nil, fmt.Errorf("recompute total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit evaluate: %w", err)
	}

	s.writeAudit(ctx, actorID, "session.evaluate", sessionID)

	sess, _, _, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) openSession(ctx context.Context, userID, testID int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, test_id, user_id, started_at, expires_at, ended_at, submitted, total_score
		FROM test_sessions
		WHERE user_id = $1 AND test_id = $2 AND NOT submitted
	`, userID, testID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query open session: %w", err)
	}
	return sess, nil
}

func (s *Service) loadSession(ctx context.Context, sessionID int64) (*Session, string, int, error) {
	if sessionID <= 0 {
		return nil, "", 0, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.test_id, s.user_id, s.started_at, s.expires_at, s.ended_at, s.submitted, s.total_score,
		       t.name, t.duration_minutes
		FROM test_sessions s
		JOIN tests t ON t.id = s.test_id
		WHERE s.id = $1
	`, sessionID)

	var sess Session
	var endedAt sql.NullTime
	var testName string
	var durationMinutes int
	err := row.Scan(&sess.ID, &sess.TestID, &sess.UserID, &sess.StartedAt, &sess.ExpiresAt,
		&endedAt, &sess.Submitted, &sess.TotalScore, &testName, &durationMinutes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", 0, ErrSessionNotFound
		}
		return nil, "", 0, fmt.Errorf("load session: %w", err)
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, testName, durationMinutes, nil
}

func (s *Service) loadQuestions(ctx context.Context, testID int64) ([]QuestionView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.question_text, q.question_type, q.points
		FROM questions q
		JOIN test_groups tg ON tg.group_id = q.group_id
		WHERE tg.test_id = $1
		ORDER BY q.id
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]QuestionView, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var q QuestionView
		if err := rows.Scan(&q.ID, &q.QuestionText, &q.QuestionType, &q.Points); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		index[q.ID] = len(out)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	// Choice correctness stays server-side.
	choiceRows, err := s.db.QueryContext(ctx, `
		SELECT c.question_id, c.choice_index, c.choice_text
		FROM question_choices c
		JOIN questions q ON q.id = c.question_id
		JOIN test_groups tg ON tg.group_id = q.group_id
		WHERE tg.test_id = $1
		ORDER BY c.question_id, c.choice_index
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query choices: %w", err)
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var questionID int64
		var c ChoiceView
		if err := choiceRows.Scan(&questionID, &c.Index, &c.Text); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		if pos, ok := index[questionID]; ok {
			out[pos].Choices = append(out[pos].Choices, c)
		}
	}
	if err := choiceRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate choices: %w", err)
	}
	return out, nil
}

func (s *Service) loadAnswers(ctx context.Context, sessionID int64) ([]AnswerView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question_id, response, auto_score, given_score
		FROM user_answers
		WHERE session_id = $1
		ORDER BY question_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make([]AnswerView, 0)
	for rows.Next() {
		var a AnswerView
		var autoScore, givenScore sql.NullFloat64
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Response, &autoScore, &givenScore); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if autoScore.Valid {
			a.AutoScore = &autoScore.Float64
		}
		if givenScore.Valid {
			a.GivenScore = &givenScore.Float64
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.TestID, &sess.UserID, &sess.StartedAt, &sess.ExpiresAt,
		&endedAt, &sess.Submitted, &sess.TotalScore)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action string, entityID int64) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, created_at)
		VALUES ($1, $2, 'test_session', $3::text, now())
	`, userID, action, entityID)
	if err != nil {
		log.Printf("write audit failed: action=%s err=%v", action, err)
	}
}
