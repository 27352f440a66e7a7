package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	ph, err := HashPassword("correct horse", "pepper")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := VerifyPassword("correct horse", "pepper", ph)
	if err != nil || !ok {
		t.Fatalf("expected verify to pass, got ok=%v err=%v", ok, err)
	}
	ok, _ = VerifyPassword("wrong", "pepper", ph)
	if ok {
		t.Fatalf("expected wrong password to fail")
	}
	ok, _ = VerifyPassword("correct horse", "other-pepper", ph)
	if ok {
		t.Fatalf("expected wrong pepper to fail")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword("   ", "pepper"); err == nil {
		t.Fatalf("expected error for blank password")
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	a, err := HashPassword("pw", "pepper")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := HashPassword("pw", "pepper")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a.Salt == b.Salt || a.Hash == b.Hash {
		t.Fatalf("expected distinct salts and hashes")
	}
}

func TestParsePasswordHashRequiresBoth(t *testing.T) {
	if _, err := ParsePasswordHash("hash", ""); err == nil {
		t.Fatalf("expected error for missing salt")
	}
	if _, err := ParsePasswordHash("", "salt"); err == nil {
		t.Fatalf("expected error for missing hash")
	}
}

func TestCSRFTokenRoundTrip(t *testing.T) {
	token, err := GenerateCSRF("key", "session-1")
	if err != nil || token == "" {
		t.Fatalf("expected token, got %q err=%v", token, err)
	}
	if !VerifyCSRF("key", "session-1", token) {
		t.Fatalf("expected token to verify")
	}
	if VerifyCSRF("key", "session-2", token) {
		t.Fatalf("expected token bound to session id")
	}
	if VerifyCSRF("other", "session-1", token) {
		t.Fatalf("expected token bound to key")
	}
}
