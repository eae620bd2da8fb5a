package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrTestNotFound    = errors.New("test not found")
	ErrSessionNotFound = errors.New("session not found")
)

type Service struct {
	db *sql.DB
}

type SubmittedSession struct {
	SessionID       int64     `json:"session_id"`
	TestID          int64     `json:"test_id"`
	TestName        string    `json:"test_name"`
	PositionName    string    `json:"position_name"`
	TraineeID       int64     `json:"trainee_id"`
	TraineeName     string    `json:"trainee_name"`
	TraineeEmail    string    `json:"trainee_email"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	TotalScore      float64   `json:"total_score"`
	MaxScore        float64   `json:"max_score"`
	AnsweredCount   int       `json:"answered_count"`
	QuestionCount   int       `json:"question_count"`
	UngradedCount   int       `json:"ungraded_count"`
	AssignmentState string    `json:"assignment_state"`
}

type ReviewAnswer struct {
	AnswerID       int64    `json:"answer_id"`
	QuestionID     int64    `json:"question_id"`
	QuestionText   string   `json:"question_text"`
	QuestionType   string   `json:"question_type"`
	Points         float64  `json:"points"`
	Response       string   `json:"response"`
	CorrectIndices []int    `json:"correct_indices,omitempty"`
	AutoScore      *float64 `json:"auto_score,omitempty"`
	GivenScore     *float64 `json:"given_score,omitempty"`
}

type SessionReview struct {
	SubmittedSession
	Answers []ReviewAnswer `json:"answers"`
}

type TestSummary struct {
	TestID       int64   `json:"test_id"`
	TestName     string  `json:"test_name"`
	Participants int     `json:"participants"`
	AverageScore float64 `json:"average_score"`
	HighestScore float64 `json:"highest_score"`
	LowestScore  float64 `json:"lowest_score"`
	MaxScore     float64 `json:"max_score"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ListSubmittedSessions returns every finished session, optionally
// filtered by test, newest first. The ungraded count tells the reviewer
// how many text answers still need a manual score.
func (s *Service) ListSubmittedSessions(ctx context.Context, testID int64) ([]SubmittedSession, error) {
	filter := ""
	args := []any{}
	if testID > 0 {
		filter = "AND t.id = $1"
		args = append(args, testID)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT
			s.id, t.id, t.name, p.name,
			u.id, u.full_name, u.email,
			s.started_at, s.ended_at, s.total_score,
			COALESCE(a.status, 'pending'),
			(SELECT COALESCE(SUM(q.points), 0) FROM questions q
			  JOIN test_groups tg ON tg.group_id = q.group_id
			  WHERE tg.test_id = t.id) AS max_score,
			(SELECT COUNT(*) FROM questions q
			  JOIN test_groups tg ON tg.group_id = q.group_id
			  WHERE tg.test_id = t.id) AS question_count,
			(SELECT COUNT(*) FROM user_answers ua
			  WHERE ua.session_id = s.id AND ua.response <> '') AS answered_count,
			(SELECT COUNT(*) FROM user_answers ua
			  JOIN questions q ON q.id = ua.question_id
			  WHERE ua.session_id = s.id
			    AND q.question_type = 'text'
			    AND ua.given_score IS NULL) AS ungraded_count
		FROM test_sessions s
		JOIN tests t ON t.id = s.test_id
		JOIN positions p ON p.id = t.position_id
		JOIN users u ON u.id = s.user_id
		LEFT JOIN assigned_tests a ON a.test_id = t.id AND a.user_id = u.id
		WHERE s.submitted %s
		ORDER BY s.ended_at DESC
	`, filter), args...)
	if err != nil {
		return nil, fmt.Errorf("query submitted sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SubmittedSession, 0)
	for rows.Next() {
		var ss SubmittedSession
		if err := rows.Scan(&ss.SessionID, &ss.TestID, &ss.TestName, &ss.PositionName,
			&ss.TraineeID, &ss.TraineeName, &ss.TraineeEmail,
			&ss.StartedAt, &ss.EndedAt, &ss.TotalScore, &ss.AssignmentState,
			&ss.MaxScore, &ss.QuestionCount, &ss.AnsweredCount, &ss.UngradedCount); err != nil {
			return nil, fmt.Errorf("scan submitted session: %w", err)
		}
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submitted sessions: %w", err)
	}
	return out, nil
}

// SessionReviewDetail returns one submitted session with every question,
// the trainee's response and the correct MCQ indices for side-by-side
// review.
func (s *Service) SessionReviewDetail(ctx context.Context, sessionID int64) (*SessionReview, error) {
	if sessionID <= 0 {
		return nil, ErrInvalidInput
	}

	var review SessionReview
	err := s.db.QueryRowContext(ctx, `
		SELECT
			s.id, t.id, t.name, p.name,
			u.id, u.full_name, u.email,
			s.started_at, s.ended_at, s.total_score,
			COALESCE(a.status, 'pending'),
			(SELECT COALESCE(SUM(q.points), 0) FROM questions q
			  JOIN test_groups tg ON tg.group_id = q.group_id
			  WHERE tg.test_id = t.id)
		FROM test_sessions s
		JOIN tests t ON t.id = s.test_id
		JOIN positions p ON p.id = t.position_id
		JOIN users u ON u.id = s.user_id
		LEFT JOIN assigned_tests a ON a.test_id = t.id AND a.user_id = u.id
		WHERE s.id = $1 AND s.submitted
	`, sessionID).Scan(&review.SessionID, &review.TestID, &review.TestName, &review.PositionName,
		&review.TraineeID, &review.TraineeName, &review.TraineeEmail,
		&review.StartedAt, &review.EndedAt, &review.TotalScore, &review.AssignmentState,
		&review.MaxScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session review: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.question_text, q.question_type, q.points,
		       COALESCE(ua.id, 0), COALESCE(ua.response, ''),
		       ua.auto_score, ua.given_score
		FROM questions q
		JOIN test_groups tg ON tg.group_id = q.group_id
		LEFT JOIN user_answers ua ON ua.question_id = q.id AND ua.session_id = $1
		WHERE tg.test_id = $2
		ORDER BY q.id
	`, sessionID, review.TestID)
	if err != nil {
		return nil, fmt.Errorf("query review answers: %w", err)
	}
	defer rows.Close()

	review.Answers = make([]ReviewAnswer, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var ra ReviewAnswer
		var autoScore, givenScore sql.NullFloat64
		if err := rows.Scan(&ra.QuestionID, &ra.QuestionText, &ra.QuestionType, &ra.Points,
			&ra.AnswerID, &ra.Response, &autoScore, &givenScore); err != nil {
			return nil, fmt.Errorf("scan review answer: %w", err)
		}
		if autoScore.Valid {
			ra.AutoScore = &autoScore.Float64
		}
		if givenScore.Valid {
			ra.GivenScore = &givenScore.Float64
		}
		index[ra.QuestionID] = len(review.Answers)
		review.Answers = append(review.Answers, ra)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review answers: %w", err)
	}

	correctRows, err := s.db.QueryContext(ctx, `
		SELECT c.question_id, c.choice_index
		FROM question_choices c
		JOIN questions q ON q.id = c.question_id
		JOIN test_groups tg ON tg.group_id = q.group_id
		WHERE tg.test_id = $1 AND c.is_correct
		ORDER BY c.question_id, c.choice_index
	`, review.TestID)
	if err != nil {
		return nil, fmt.Errorf("query correct indices: %w", err)
	}
	defer correctRows.Close()

	for correctRows.Next() {
		var questionID int64
		var idx int
		if err := correctRows.Scan(&questionID, &idx); err != nil {
			return nil, fmt.Errorf("scan correct index: %w", err)
		}
		if pos, ok := index[questionID]; ok {
			review.Answers[pos].CorrectIndices = append(review.Answers[pos].CorrectIndices, idx)
		}
	}
	if err := correctRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate correct indices: %w", err)
	}
	return &review, nil
}

// SummaryByTest aggregates submitted sessions of one test.
func (s *Service) SummaryByTest(ctx context.Context, testID int64) (*TestSummary, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}

	summary := &TestSummary{TestID: testID}
	err := s.db.QueryRowContext(ctx, `
		SELECT t.name,
		       (SELECT COALESCE(SUM(q.points), 0) FROM questions q
			 JOIN test_groups tg ON tg.group_id = q.group_id
			 WHERE tg.test_id = t.id),
		       COUNT(s.id),
		       COALESCE(AVG(s.total_score), 0),
		       COALESCE(MAX(s.total_score), 0),
		       COALESCE(MIN(s.total_score), 0)
		FROM tests t
		LEFT JOIN test_sessions s ON s.test_id = t.id AND s.submitted
		WHERE t.id = $1
		GROUP BY t.id
	`, testID).Scan(&summary.TestName, &summary.MaxScore, &summary.Participants,
		&summary.AverageScore, &summary.HighestScore, &summary.LowestScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test summary: %w", err)
	}
	return summary, nil
}
