package auth

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/xuri/excelize/v2"
)

type TraineeImportRowError struct {
	Row      int    `json:"row"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error"`
}

type TraineeImportReport struct {
	TotalRows   int                     `json:"total_rows"`
	SuccessRows int                     `json:"success_rows"`
	FailedRows  int                     `json:"failed_rows"`
	Errors      []TraineeImportRowError `json:"errors"`
}

func (s *Service) ExportTraineesExcel(ctx context.Context) ([]byte, error) {
	items, err := s.ListTrainees(ctx, "", 10000, 0)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"username", "email", "full_name", "is_active", "assigned_tests", "created_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		values := []any{
			it.Username,
			it.Email,
			it.FullName,
			it.IsActive,
			it.AssignedTests,
			it.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "F", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportTraineesExcel creates trainees from the first sheet and updates
// existing ones matched by username. Rows that fail validation are
// collected in the report instead of aborting the import.
func (s *Service) ImportTraineesExcel(ctx context.Context, actorID int64, r io.Reader) (*TraineeImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", ErrInvalidInput)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel sheet is empty: %w", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows found: %w", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"username", "email", "full_name"} {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("missing required column %s: %w", col, ErrInvalidInput)
		}
	}

	report := &TraineeImportReport{Errors: make([]TraineeImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		report.TotalRows++

		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		username := strings.ToLower(get("username"))
		email := strings.ToLower(get("email"))
		fullName := get("full_name")
		password := get("password")

		fail := func(msg string) {
			report.FailedRows++
			report.Errors = append(report.Errors, TraineeImportRowError{Row: rowNo, Username: username, Error: msg})
		}

		if username == "" || fullName == "" {
			fail("username and full_name are required")
			continue
		}
		if _, err := mail.ParseAddress(email); err != nil {
			fail("invalid email")
			continue
		}

		var userID int64
		var role string
		err := s.db.QueryRowContext(ctx, `
			SELECT id, role FROM users WHERE username = $1
		`, username).Scan(&userID, &role)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			fail("lookup failed")
			continue
		}

		if userID == 0 {
			if len(password) < 8 {
				fail("password of at least 8 characters is required for new trainees")
				continue
			}
			if _, err := s.CreateTrainee(ctx, actorID, CreateTraineeInput{
				Username: username,
				Email:    email,
				Password: password,
				FullName: fullName,
			}); err != nil {
				fail(err.Error())
				continue
			}
			report.SuccessRows++
			continue
		}

		if role != RoleTrainee {
			fail("username belongs to a non-trainee account")
			continue
		}
		if err := s.updateTraineeFromImport(ctx, userID, fullName, password); err != nil {
			fail(err.Error())
			continue
		}
		s.writeAudit(ctx, actorID, "trainee.import_update", "user", userID)
		report.SuccessRows++
	}

	return report, nil
}

func (s *Service) updateTraineeFromImport(ctx context.Context, userID int64, fullName, password string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET full_name = $2, updated_at = now() WHERE id = $1
	`, userID, fullName); err != nil {
		return fmt.Errorf("update trainee: %w", err)
	}
	if password == "" {
		return nil
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
