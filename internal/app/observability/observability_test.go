package observability

import "testing"

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/session/123")
	want := "/api/v1/session/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestExtractSessionID(t *testing.T) {
	if id := extractSessionID("/api/v1/session/456"); id != 456 {
		t.Fatalf("expected 456, got %d", id)
	}
	if id := extractSessionID("/api/v1/tests"); id != 0 {
		t.Fatalf("expected 0 for non-session path, got %d", id)
	}
}
