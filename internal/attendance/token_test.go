package attendance

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewSessionPayloadRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	s := NewSession("Second Year", "Hymn Singing", DefaultSessionTTL, now)

	var payload QRPayload
	if err := json.Unmarshal([]byte(s.QRCode), &payload); err != nil {
		t.Fatalf("payload does not parse: %v", err)
	}

	if payload.SessionID != s.ID {
		t.Errorf("payload sessionId = %q, want %q", payload.SessionID, s.ID)
	}
	if payload.Token != s.Token {
		t.Errorf("payload token = %q, want %q", payload.Token, s.Token)
	}
	if payload.Subject != "Hymn Singing" || payload.AcademicLevel != "Second Year" {
		t.Errorf("payload subject/level = %q/%q", payload.Subject, payload.AcademicLevel)
	}
	if payload.Timestamp != now.UnixMilli() {
		t.Errorf("payload timestamp = %d, want %d", payload.Timestamp, now.UnixMilli())
	}
	if payload.ExpiresAt != now.Add(30*time.Minute).UnixMilli() {
		t.Errorf("payload expiresAt = %d, want created+30m", payload.ExpiresAt)
	}
}

func TestNewSessionDefaultsTTL(t *testing.T) {
	now := time.Now()
	s := NewSession("First Year", "Math", 0, now)
	if got := s.ExpiresAt.Sub(s.CreatedAt); got != DefaultSessionTTL {
		t.Errorf("ttl = %v, want %v", got, DefaultSessionTTL)
	}
	if !s.IsActive {
		t.Error("new session should be active")
	}
}

func TestNewSessionIDsAndTokensDiffer(t *testing.T) {
	now := time.Now()
	seenIDs := make(map[string]bool)
	seenTokens := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := NewSession("First Year", "Math", QuickSessionTTL, now)
		if seenIDs[s.ID] {
			t.Fatalf("duplicate session id %q", s.ID)
		}
		if seenTokens[s.Token] {
			t.Fatalf("duplicate token %q", s.Token)
		}
		seenIDs[s.ID] = true
		seenTokens[s.Token] = true
	}
}
