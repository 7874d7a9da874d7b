package auth

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret")
	tok, err := m.GenerateToken("42", "ab12")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := m.ValidateToken(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "42" || claims.SessionKey != "ab12" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	tok, err := NewManager("secret-a").GenerateToken("42", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewManager("secret-b").ValidateToken(tok); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestFromHeader(t *testing.T) {
	if tok, ok := FromHeader("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("got %q %v", tok, ok)
	}
	if _, ok := FromHeader("abc"); ok {
		t.Fatal("missing Bearer prefix should fail")
	}
	if _, ok := FromHeader("Bearer "); ok {
		t.Fatal("empty token should fail")
	}
}
