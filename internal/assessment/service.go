package assessment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"quizdesk/internal/mailer"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrPositionNameTaken   = errors.New("position name already exists")
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionInUse       = errors.New("position is used by a test")
	ErrTestNotFound        = errors.New("test not found")
	ErrGroupNotFound       = errors.New("question group not found")
	ErrTraineeNotFound     = errors.New("trainee not found")
	ErrAssignmentNotFound  = errors.New("assigned test not found")
	ErrInvalidDecision     = errors.New("invalid decision status")
	ErrAssignmentFinalized = errors.New("assigned test already decided")
)

const (
	DecisionPending  = "pending"
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
)

type Service struct {
	db     *sql.DB
	mailer mailer.Mailer
}

type Position struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	TestCount int       `json:"test_count"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateTestInput struct {
	Name            string
	PositionID      int64
	TestDate        time.Time
	DurationMinutes int
	GroupIDs        []int64
	TraineeIDs      []int64
}

type Test struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	PositionID      int64     `json:"position_id"`
	PositionName    string    `json:"position_name"`
	TestDate        time.Time `json:"test_date"`
	DurationMinutes int       `json:"duration_minutes"`
	GroupIDs        []int64   `json:"group_ids"`
	AssignedCount   int       `json:"assigned_count"`
	QuestionCount   int       `json:"question_count"`
	CreatedAt       time.Time `json:"created_at"`
}

type AssignedTest struct {
	ID              int64     `json:"id"`
	TestID          int64     `json:"test_id"`
	TestName        string    `json:"test_name"`
	PositionName    string    `json:"position_name"`
	TestDate        time.Time `json:"test_date"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	IsToday         bool      `json:"is_today"`
	HasOpenSession  bool      `json:"has_open_session"`
	AssignedAt      time.Time `json:"assigned_at"`
}

func NewService(db *sql.DB, m mailer.Mailer) *Service {
	if m == nil {
		m = &mailer.LogMailer{}
	}
	return &Service{db: db, mailer: m}
}

func (s *Service) CreatePosition(ctx context.Context, actorID int64, name string) (*Position, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM positions WHERE lower(name) = lower($1))
	`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check position name: %w", err)
	}
	if exists {
		return nil, ErrPositionNameTaken
	}

	p := &Position{Name: name, IsActive: true}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO positions (name, is_active, created_at, updated_at)
		VALUES ($1, TRUE, now(), now())
		RETURNING id, created_at
	`, name).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert position: %w", err)
	}

	s.writeAudit(ctx, actorID, "position.create", "position", p.ID)
	return p, nil
}

func (s *Service) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.is_active, p.created_at, COUNT(t.id) AS test_count
		FROM positions p
		LEFT JOIN tests t ON t.position_id = p.id
		GROUP BY p.id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	out := make([]Position, 0)
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt, &p.TestCount); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

func (s *Service) DeletePosition(ctx context.Context, actorID, positionID int64) error {
	if positionID <= 0 {
		return ErrInvalidInput
	}

	var inUse bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM tests WHERE position_id = $1)
	`, positionID).Scan(&inUse); err != nil {
		return fmt.Errorf("check position usage: %w", err)
	}
	if inUse {
		return ErrPositionInUse
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, positionID)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPositionNotFound
	}

	s.writeAudit(ctx, actorID, "position.delete", "position", positionID)
	return nil
}

// CreateTest creates the test, links its question groups and assigns it
// to the chosen trainees in a single transaction. Assignment emails go
// out after commit and are non-fatal.
func (s *Service) CreateTest(ctx context.Context, actorID int64, in CreateTestInput) (*Test, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.PositionID <= 0 || in.TestDate.IsZero() ||
		in.DurationMinutes <= 0 || len(in.GroupIDs) == 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin test tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t := &Test{
		Name:            in.Name,
		PositionID:      in.PositionID,
		TestDate:        in.TestDate,
		DurationMinutes: in.DurationMinutes,
		GroupIDs:        in.GroupIDs,
	}
	err = tx.QueryRowContext(ctx, `
		SELECT name FROM positions WHERE id = $1 AND is_active = TRUE
	`, in.PositionID).Scan(&t.PositionName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, fmt.Errorf("load position: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO tests (name, position_id, test_date, duration_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, created_at
	`, in.Name, in.PositionID, in.TestDate, in.DurationMinutes).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert test: %w", err)
	}

	for _, groupID := range in.GroupIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO test_groups (test_id, group_id, created_at)
			SELECT $1, id, now() FROM question_groups WHERE id = $2
		`, t.ID, groupID)
		if err != nil {
			return nil, fmt.Errorf("link group: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrGroupNotFound
		}
	}

	type recipient struct {
		email    string
		fullName string
	}
	recipients := make([]recipient, 0, len(in.TraineeIDs))
	for _, traineeID := range in.TraineeIDs {
		var rcpt recipient
		err := tx.QueryRowContext(ctx, `
			SELECT email, full_name FROM users
			WHERE id = $1 AND role = 'trainee' AND is_active = TRUE
		`, traineeID).Scan(&rcpt.email, &rcpt.fullName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrTraineeNotFound
			}
			return nil, fmt.Errorf("load trainee: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assigned_tests (test_id, user_id, status, assigned_by, assigned_at, updated_at)
			VALUES ($1, $2, 'pending', $3, now(), now())
			ON CONFLICT (user_id, test_id) DO NOTHING
		`, t.ID, traineeID, actorID); err != nil {
			return nil, fmt.Errorf("assign trainee: %w", err)
		}
		recipients = append(recipients, rcpt)
	}
	t.AssignedCount = len(recipients)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit test: %w", err)
	}

	s.writeAudit(ctx, actorID, "test.create", "test", t.ID)

	for _, rcpt := range recipients {
		subject, body := mailer.TestAssignmentBody(rcpt.fullName, t.Name, t.PositionName, t.TestDate, t.DurationMinutes)
		if err := s.mailer.Send(ctx, rcpt.email, subject, body); err != nil {
			log.Printf("send assignment mail failed: to=%s err=%v", rcpt.email, err)
		}
	}
	return t, nil
}

func (s *Service) ListTests(ctx context.Context) ([]Test, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			t.id, t.name, t.position_id, p.name, t.test_date, t.duration_minutes, t.created_at,
			(SELECT COUNT(*) FROM assigned_tests a WHERE a.test_id = t.id) AS assigned_count,
			(SELECT COUNT(*) FROM questions q
			  JOIN test_groups tg ON tg.group_id = q.group_id
			  WHERE tg.test_id = t.id) AS question_count
		FROM tests t
		JOIN positions p ON p.id = t.position_id
		ORDER BY t.test_date DESC, t.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	out := make([]Test, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.Name, &t.PositionID, &t.PositionName, &t.TestDate,
			&t.DurationMinutes, &t.CreatedAt, &t.AssignedCount, &t.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		t.GroupIDs = make([]int64, 0)
		index[t.ID] = len(out)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	groupRows, err := s.db.QueryContext(ctx, `
		SELECT test_id, group_id FROM test_groups ORDER BY test_id, group_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query test groups: %w", err)
	}
	defer groupRows.Close()

	for groupRows.Next() {
		var testID, groupID int64
		if err := groupRows.Scan(&testID, &groupID); err != nil {
			return nil, fmt.Errorf("scan test group: %w", err)
		}
		if pos, ok := index[testID]; ok {
			out[pos].GroupIDs = append(out[pos].GroupIDs, groupID)
		}
	}
	if err := groupRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test groups: %w", err)
	}
	return out, nil
}

// DeleteTest removes the test and every dependent row. Sessions and their
// answers go too, so the operation is meant for tests created by mistake.
func (s *Service) DeleteTest(ctx context.Context, actorID, testID int64) error {
	if testID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM tests WHERE id = $1)
	`, testID).Scan(&exists); err != nil {
		return fmt.Errorf("check test: %w", err)
	}
	if !exists {
		return ErrTestNotFound
	}

	steps := []struct {
		name  string
		query string
	}{
		{"delete answers", `
			DELETE FROM user_answers
			WHERE session_id IN (SELECT id FROM test_sessions WHERE test_id = $1)`},
		{"delete sessions", `DELETE FROM test_sessions WHERE test_id = $1`},
		{"delete assignments", `DELETE FROM assigned_tests WHERE test_id = $1`},
		{"delete group links", `DELETE FROM test_groups WHERE test_id = $1`},
		{"delete test", `DELETE FROM tests WHERE id = $1`},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.query, testID); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	s.writeAudit(ctx, actorID, "test.delete", "test", testID)
	return nil
}

// ListAssignedTests returns the trainee's assignments with an is_today
// flag so the portal knows which tests can be started right now.
func (s *Service) ListAssignedTests(ctx context.Context, traineeID int64) ([]AssignedTest, error) {
	if traineeID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			a.id, a.test_id, t.name, p.name, t.test_date, t.duration_minutes,
			a.status, a.assigned_at,
			(t.test_date = CURRENT_DATE) AS is_today,
			EXISTS (
				SELECT 1 FROM test_sessions s
				WHERE s.test_id = a.test_id AND s.user_id = a.user_id AND NOT s.submitted
			) AS has_open_session
		FROM assigned_tests a
		JOIN tests t ON t.id = a.test_id
		JOIN positions p ON p.id = t.position_id
		WHERE a.user_id = $1
		ORDER BY t.test_date DESC, a.id DESC
	`, traineeID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := make([]AssignedTest, 0)
	for rows.Next() {
		var a AssignedTest
		if err := rows.Scan(&a.ID, &a.TestID, &a.TestName, &a.PositionName, &a.TestDate,
			&a.DurationMinutes, &a.Status, &a.AssignedAt, &a.IsToday, &a.HasOpenSession); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// UpdateDecision records the admin's accept/reject verdict on a submitted
// assignment and notifies the trainee by email.
func (s *Service) UpdateDecision(ctx context.Context, actorID, assignmentID int64, status string) (*AssignedTest, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != DecisionAccepted && status != DecisionRejected {
		return nil, ErrInvalidDecision
	}
	if assignmentID <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var a AssignedTest
	var email, fullName string
	err = tx.QueryRowContext(ctx, `
		SELECT a.id, a.test_id, a.status, a.assigned_at,
		       t.name, p.name, t.test_date, t.duration_minutes,
		       u.email, u.full_name
		FROM assigned_tests a
		JOIN tests t ON t.id = a.test_id
		JOIN positions p ON p.id = t.position_id
		JOIN users u ON u.id = a.user_id
		WHERE a.id = $1
		FOR UPDATE OF a
	`, assignmentID).Scan(&a.ID, &a.TestID, &a.Status, &a.AssignedAt,
		&a.TestName, &a.PositionName, &a.TestDate, &a.DurationMinutes, &email, &fullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	if a.Status != DecisionPending {
		return nil, ErrAssignmentFinalized
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE assigned_tests SET status = $2, updated_at = now() WHERE id = $1
	`, assignmentID, status); err != nil {
		return nil, fmt.Errorf("update assignment: %w", err)
	}
	a.Status = status

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}

	s.writeAudit(ctx, actorID, "assigned_test."+status, "assigned_test", assignmentID)

	subject, body := mailer.DecisionBody(fullName, a.TestName, a.PositionName, status)
	if err := s.mailer.Send(ctx, email, subject, body); err != nil {
		log.Printf("send decision mail failed: to=%s err=%v", email, err)
	}
	return &a, nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action, entityType string, entityID int64) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, created_at)
		VALUES ($1, $2, $3, $4::text, now())
	`, userID, action, entityType, entityID)
	if err != nil {
		log.Printf("write audit failed: action=%s err=%v", action, err)
	}
}
