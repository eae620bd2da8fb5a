package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrGroupNameTaken   = errors.New("question group name already exists")
	ErrGroupNotFound    = errors.New("question group not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrGroupInUse       = errors.New("question group is used by a test")
)

const (
	TypeMCQ  = "mcq"
	TypeText = "text"
)

type Service struct {
	db *sql.DB
}

type Group struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type ChoiceInput struct {
	Text string
}

type QuestionInput struct {
	QuestionText   string
	QuestionType   string
	Points         float64
	Choices        []ChoiceInput
	CorrectIndices []int
}

type Choice struct {
	ID        int64  `json:"id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type Question struct {
	ID           int64     `json:"id"`
	GroupID      int64     `json:"group_id"`
	QuestionText string    `json:"question_text"`
	QuestionType string    `json:"question_type"`
	Points       float64   `json:"points"`
	Choices      []Choice  `json:"choices,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateGroup(ctx context.Context, actorID int64, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM question_groups WHERE lower(name) = lower($1))
	`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check group name: %w", err)
	}
	if exists {
		return nil, ErrGroupNameTaken
	}

	g := &Group{Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO question_groups (name, created_at)
		VALUES ($1, now())
		RETURNING id, created_at
	`, name).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}

	s.writeAudit(ctx, actorID, "question_group.create", g.ID)
	return g, nil
}

func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.created_at, COUNT(q.id) AS question_count
		FROM question_groups g
		LEFT JOIN questions q ON q.group_id = g.id
		GROUP BY g.id
		ORDER BY g.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	out := make([]Group, 0)
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt, &g.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// DeleteGroup removes a group and its questions, choices and recorded
// answers. Groups still attached to a test are refused.
func (s *Service) DeleteGroup(ctx context.Context, actorID, groupID int64) error {
	if groupID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM question_groups WHERE id = $1)
	`, groupID).Scan(&exists); err != nil {
		return fmt.Errorf("check group: %w", err)
	}
	if !exists {
		return ErrGroupNotFound
	}

	var inUse bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM test_groups WHERE group_id = $1)
	`, groupID).Scan(&inUse); err != nil {
		return fmt.Errorf("check group usage: %w", err)
	}
	if inUse {
		return ErrGroupInUse
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_answers
		WHERE question_id IN (SELECT id FROM questions WHERE group_id = $1)
	`, groupID); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM questions WHERE group_id = $1
	`, groupID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM question_groups WHERE id = $1
	`, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	s.writeAudit(ctx, actorID, "question_group.delete", groupID)
	return nil
}

// CreateQuiz inserts a batch of questions into a group in one transaction.
// Any invalid question aborts the whole batch.
func (s *Service) CreateQuiz(ctx context.Context, actorID, groupID int64, inputs []QuestionInput) ([]Question, error) {
	if groupID <= 0 || len(inputs) == 0 {
		return nil, ErrInvalidInput
	}
	for i := range inputs {
		if err := ValidateQuestionInput(inputs[i]); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin quiz tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM question_groups WHERE id = $1)
	`, groupID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check group: %w", err)
	}
	if !exists {
		return nil, ErrGroupNotFound
	}

	created := make([]Question, 0, len(inputs))
	for _, in := range inputs {
		qType := strings.ToLower(strings.TrimSpace(in.QuestionType))

		q := Question{
			GroupID:      groupID,
			QuestionText: strings.TrimSpace(in.QuestionText),
			QuestionType: qType,
			Points:       in.Points,
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO questions (group_id, question_text, question_type, points, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			RETURNING id, created_at
		`, groupID, q.QuestionText, qType, in.Points).Scan(&q.ID, &q.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert question: %w", err)
		}

		if qType == TypeMCQ {
			correct := make(map[int]bool, len(in.CorrectIndices))
			for _, idx := range in.CorrectIndices {
				correct[idx] = true
			}
			for idx, ch := range in.Choices {
				c := Choice{Index: idx, Text: strings.TrimSpace(ch.Text), IsCorrect: correct[idx]}
				err := tx.QueryRowContext(ctx, `
					INSERT INTO question_choices (question_id, choice_index, choice_text, is_correct)
					VALUES ($1, $2, $3, $4)
					RETURNING id
				`, q.ID, c.Index, c.Text, c.IsCorrect).Scan(&c.ID)
				if err != nil {
					return nil, fmt.Errorf("insert choice: %w", err)
				}
				q.Choices = append(q.Choices, c)
			}
		}
		created = append(created, q)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit quiz: %w", err)
	}

	for i := range created {
		s.writeAudit(ctx, actorID, "question.create", created[i].ID)
	}
	return created, nil
}

func (s *Service) ListQuestionsByGroup(ctx context.Context, groupID int64) ([]Question, error) {
	if groupID <= 0 {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM question_groups WHERE id = $1)
	`, groupID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check group: %w", err)
	}
	if !exists {
		return nil, ErrGroupNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, question_text, question_type, points, created_at
		FROM questions
		WHERE group_id = $1
		ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.GroupID, &q.QuestionText, &q.QuestionType, &q.Points, &q.CreatedAt); err != nil {
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

	choiceRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.question_id, c.choice_index, c.choice_text, c.is_correct
		FROM question_choices c
		JOIN questions q ON q.id = c.question_id
		WHERE q.group_id = $1
		ORDER BY c.question_id, c.choice_index
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query choices: %w", err)
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var c Choice
		var questionID int64
		if err := choiceRows.Scan(&c.ID, &questionID, &c.Index, &c.Text, &c.IsCorrect); err != nil {
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

// DeleteQuestion removes a question together with its choices and any
// recorded answers.
func (s *Service) DeleteQuestion(ctx context.Context, actorID, questionID int64) error {
	if questionID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1)
	`, questionID).Scan(&exists); err != nil {
		return fmt.Errorf("check question: %w", err)
	}
	if !exists {
		return ErrQuestionNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_answers WHERE question_id = $1
	`, questionID); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM question_choices WHERE question_id = $1
	`, questionID); err != nil {
		return fmt.Errorf("delete choices: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM questions WHERE id = $1
	`, questionID); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	s.writeAudit(ctx, actorID, "question.delete", questionID)
	return nil
}

// ValidateQuestionInput checks a single question before insertion. MCQ
// questions need at least two choices and at least one correct index,
// all indices unique and in range. Text questions carry neither.
func ValidateQuestionInput(in QuestionInput) error {
	if strings.TrimSpace(in.QuestionText) == "" {
		return fmt.Errorf("%w: question text is required", ErrInvalidInput)
	}
	if in.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrInvalidInput)
	}

	switch strings.ToLower(strings.TrimSpace(in.QuestionType)) {
	case TypeMCQ:
		if len(in.Choices) < 2 {
			return fmt.Errorf("%w: mcq needs at least two choices", ErrInvalidInput)
		}
		for i, ch := range in.Choices {
			if strings.TrimSpace(ch.Text) == "" {
				return fmt.Errorf("%w: choice %d is empty", ErrInvalidInput, i+1)
			}
		}
		if len(in.CorrectIndices) == 0 {
			return fmt.Errorf("%w: mcq needs at least one correct choice", ErrInvalidInput)
		}
		seen := make(map[int]bool, len(in.CorrectIndices))
		sorted := append([]int(nil), in.CorrectIndices...)
		sort.Ints(sorted)
		for _, idx := range sorted {
			if idx < 0 || idx >= len(in.Choices) {
				return fmt.Errorf("%w: correct index %d out of range", ErrInvalidInput, idx)
			}
			if seen[idx] {
				return fmt.Errorf("%w: duplicate correct index %d", ErrInvalidInput, idx)
			}
			seen[idx] = true
		}
	case TypeText:
		if len(in.Choices) > 0 || len(in.CorrectIndices) > 0 {
			return fmt.Errorf("%w: text questions take no choices", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidInput, in.QuestionType)
	}
	return nil
}

func (s *Service) writeAudit(ctx context.Context, userID int64, action string, entityID int64) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, created_at)
		VALUES ($1, $2, 'question', $3::text, now())
	`, userID, action, entityID)
	if err != nil {
		log.Printf("write audit failed: action=%s err=%v", action, err)
	}
}
