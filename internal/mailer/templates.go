package mailer

import (
	"fmt"
	"time"
)

func WelcomeBody(name, username, email string) (subject, body string) {
	subject = "Welcome to Quizdesk"
	body = fmt.Sprintf(
		"Hello %s,\n\nYour trainee account has been created.\n\nUsername: %s\nEmail: %s\n\nSign in to see your assigned tests.\n",
		name, username, email,
	)
	return subject, body
}

func TestAssignmentBody(name, testName, positionName string, testDate time.Time, durationMin int) (subject, body string) {
	subject = fmt.Sprintf("Test Assigned: %s", testName)
	body = fmt.Sprintf(
		"Hello %s,\n\nYou have been assigned the test %q for the %s position.\n\nDate: %s\nDuration: %d minutes\n\nThe test can only be started on its scheduled date.\n",
		name, testName, positionName, testDate.Format("2 January 2006"), durationMin,
	)
	return subject, body
}

func DecisionBody(name, testName, positionName, status string) (subject, body string) {
	subject = fmt.Sprintf("Test Result Update: %s", testName)
	body = fmt.Sprintf(
		"Hello %s,\n\nYour application for the %s position has been updated after review of your test %q.\n\nDecision: %s\n",
		name, positionName, testName, status,
	)
	return subject, body
}

func PasswordResetBody(name, resetURL string, ttl time.Duration) (subject, body string) {
	subject = "Quizdesk Password Reset"
	body = fmt.Sprintf(
		"Hello %s,\n\nA password reset was requested for your account. Use the link below within %d minutes:\n\n%s\n\nIf you did not request this, ignore this message.\n",
		name, int(ttl.Minutes()), resetURL,
	)
	return subject, body
}
