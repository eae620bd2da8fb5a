package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"quizdesk/internal/mailer"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrTraineeNotFound    = errors.New("trainee not found")
	ErrResetTokenInvalid  = errors.New("invalid or expired reset token")
)

const (
	RoleAdmin   = "admin"
	RoleTrainee = "trainee"
)

type Service struct {
	db         *sql.DB
	sessionTTL time.Duration
	resetTTL   time.Duration
	bcryptCost int
	mailer     mailer.Mailer
	baseURL    string
}

type ServiceConfig struct {
	SessionTTL time.Duration
	ResetTTL   time.Duration
	BcryptCost int
	Mailer     mailer.Mailer
	BaseURL    string
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

type CreateTraineeInput struct {
	Username string
	Email    string
	Password string
	FullName string
}

type TraineeRecord struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	IsActive      bool      `json:"is_active"`
	AssignedTests int       `json:"assigned_tests"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 30 * time.Minute
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	m := cfg.Mailer
	if m == nil {
		m = &mailer.LogMailer{}
	}
	return &Service{
		db:         db,
		sessionTTL: cfg.SessionTTL,
		resetTTL:   cfg.ResetTTL,
		bcryptCost: cfg.BcryptCost,
		mailer:     m,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, full_name, role, is_active
		FROM users
		WHERE username = $1 OR email = $1
		LIMIT 1
	`, identifier)

	var u User
	var passwordHash string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &passwordHash, &u.FullName, &u.Role, &u.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token := uuid.NewString()
	expiresAt := time.Now().Add(s.sessionTTL)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, now()
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.role, u.is_active
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		LIMIT 1
	`, hashToken(token))

	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = now()
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RequestPasswordReset always reports success to the caller so the endpoint
// cannot be used to probe which emails are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	var userID int64
	var fullName string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name
		FROM users
		WHERE email = $1 AND is_active = TRUE
	`, email).Scan(&userID, &fullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("query user for reset: %w", err)
	}

	token := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, now())
	`, userID, hashToken(token), time.Now().Add(s.resetTTL))
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}

	resetURL := s.baseURL + "/auth/reset-password?token=" + token
	subject, body := mailer.PasswordResetBody(fullName, resetURL, s.resetTTL)
	if err := s.mailer.Send(ctx, email, subject, body); err != nil {
		log.Printf("send reset mail failed: %v", err)
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" || len(newPassword) < 8 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tokenID, userID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id
		FROM password_reset_tokens
		WHERE token_hash = $1
		  AND used_at IS NULL
		  AND expires_at > now()
		FOR UPDATE
	`, hashToken(token)).Scan(&tokenID, &userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("query reset token: %w", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, userID, string(passwordHash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE password_reset_tokens SET used_at = now() WHERE id = $1
	`, tokenID); err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL
	`, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

func (s *Service) CreateTrainee(ctx context.Context, actorID int64, in CreateTraineeInput) (*TraineeRecord, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)

	if username == "" || fullName == "" || len(in.Password) < 8 {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)
	`, email).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrEmailTaken
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)
	`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, ErrUsernameTaken
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	rec := &TraineeRecord{Username: username, Email: email, FullName: fullName, IsActive: true}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'trainee', TRUE, now(), now())
		RETURNING id, created_at
	`, username, email, string(passwordHash), fullName).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert trainee: %w", err)
	}

	s.writeAudit(ctx, actorID, "trainee.create", "user", rec.ID)

	subject, body := mailer.WelcomeBody(fullName, username, email)
	if err := s.mailer.Send(ctx, email, subject, body); err != nil {
		log.Printf("send welcome mail failed: %v", err)
	}

	return rec, nil
}

func (s *Service) ListTrainees(ctx context.Context, q string, limit, offset int) ([]TraineeRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(q)) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			u.id, u.username, u.email, u.full_name, u.is_active, u.created_at,
			COUNT(a.id) AS assigned_tests
		FROM users u
		LEFT JOIN assigned_tests a ON a.user_id = u.id
		WHERE u.role = 'trainee'
		  AND (u.username LIKE $1 OR u.email LIKE $1 OR lower(u.full_name) LIKE $1)
		GROUP BY u.id
		ORDER BY u.created_at DESC
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query trainees: %w", err)
	}
	defer rows.Close()

	out := make([]TraineeRecord, 0)
	for rows.Next() {
		var rec TraineeRecord
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Email, &rec.FullName, &rec.IsActive, &rec.CreatedAt, &rec.AssignedTests); err != nil {
			return nil, fmt.Errorf("scan trainee: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trainees: %w", err)
	}
	return out, nil
}

// DeleteTrainee removes the trainee and every dependent row (answers,
// sessions, assignments, auth state) in one transaction.
func (s *Service) DeleteTrainee(ctx context.Context, actorID, traineeID int64) error {
	if traineeID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var email string
	err = tx.QueryRowContext(ctx, `
		SELECT email FROM users WHERE id = $1 AND role = 'trainee' FOR UPDATE
	`, traineeID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTraineeNotFound
		}
		return fmt.Errorf("load trainee: %w", err)
	}

	steps := []struct {
		name  string
		query string
	}{
		{"delete answers", `
			DELETE FROM user_answers
			WHERE session_id IN (SELECT id FROM test_sessions WHERE user_id = $1)`},
		{"delete sessions", `DELETE FROM test_sessions WHERE user_id = $1`},
		{"delete assignments", `DELETE FROM assigned_tests WHERE user_id = $1`},
		{"delete auth sessions", `DELETE FROM auth_sessions WHERE user_id = $1`},
		{"delete reset tokens", `DELETE FROM password_reset_tokens WHERE user_id = $1`},
		{"delete user", `DELETE FROM users WHERE id = $1`},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.query, traineeID); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	s.writeAudit(ctx, actorID, "trainee.delete", "user", traineeID)
	return nil
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

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
