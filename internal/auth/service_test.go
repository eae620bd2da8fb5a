package auth

import "testing"

func TestHashTokenStable(t *testing.T) {
	a := hashToken("token-a")
	b := hashToken("token-a")
	if a != b {
		t.Fatalf("same token hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if hashToken("token-b") == a {
		t.Fatalf("different tokens must not collide")
	}
}

func TestNullableString(t *testing.T) {
	if v := nullableString(""); v != nil {
		t.Fatalf("empty string should map to nil, got %v", v)
	}
	if v := nullableString("10.0.0.1"); v != "10.0.0.1" {
		t.Fatalf("non-empty string should pass through, got %v", v)
	}
}
