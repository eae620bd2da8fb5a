package mailer

import (
	"strings"
	"testing"
	"time"
)

func TestTestAssignmentBody(t *testing.T) {
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	subject, body := TestAssignmentBody("Ana", "Backend Basics", "Backend Engineer", date, 90)

	if !strings.Contains(subject, "Backend Basics") {
		t.Fatalf("subject missing test name: %q", subject)
	}
	for _, want := range []string{"Ana", "Backend Engineer", "14 September 2026", "90 minutes"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q: %q", want, body)
		}
	}
}

func TestDecisionBody(t *testing.T) {
	_, body := DecisionBody("Ana", "Backend Basics", "Backend Engineer", "accepted")
	if !strings.Contains(body, "accepted") {
		t.Fatalf("body missing decision: %q", body)
	}
}

func TestPasswordResetBodyIncludesLinkAndTTL(t *testing.T) {
	_, body := PasswordResetBody("Ana", "https://example.test/auth/reset-password?token=abc", 30*time.Minute)
	if !strings.Contains(body, "https://example.test/auth/reset-password?token=abc") {
		t.Fatalf("body missing reset link: %q", body)
	}
	if !strings.Contains(body, "30 minutes") {
		t.Fatalf("body missing ttl: %q", body)
	}
}
