package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	pair, err := Issue("s-1001", RoleStudent, "classtrack", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := Parse(pair.AccessToken, "test-key", "classtrack")
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "s-1001" || claims.Role != RoleStudent {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("s-1001", RoleStudent, "classtrack", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "other-key", "classtrack"); err == nil {
		t.Fatal("want error for wrong signing key")
	}
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("s-1001", RoleInstructor, "other-issuer", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(pair.AccessToken, "test-key", "classtrack"); err == nil {
		t.Fatal("want error for issuer mismatch")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("instructor@classtrack.local", "instructor@classtrack.local") {
		t.Error("equal strings should match")
	}
	if SecureCompare("change-me", "change-m3") {
		t.Error("different strings must not match")
	}
	if SecureCompare("short", "short-but-longer") {
		t.Error("different lengths must not match")
	}
	if !SecureCompare("", "") {
		t.Error("two empty strings should match")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal plaintext")
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong password") {
		t.Error("wrong password accepted")
	}
}
