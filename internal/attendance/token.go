package attendance

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"time"
)

// Session windows. The primary instructor flow keeps a code on screen
// for half an hour; the quick flow rotates after five minutes.
const (
	DefaultSessionTTL = 30 * time.Minute
	QuickSessionTTL   = 5 * time.Minute
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.Intn(len(base36))]
	}
	return string(b)
}

// NewSessionID returns a session identifier built from the creation
// timestamp plus a random base36 suffix. Not cryptographically secure;
// the identifier only needs to be unique within a store.
func NewSessionID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + randBase36(6)
}

// NewToken returns a session token: two random base36 fragments and a
// timestamp fragment. Tokens are opaque capabilities checked by string
// equality; they are not a security boundary.
func NewToken(now time.Time) string {
	return randBase36(8) + randBase36(8) + strconv.FormatInt(now.UnixMilli(), 36)
}

// NewSession builds a Session for the given subject and level, with a
// fresh id, token, and serialized QR payload. It never fails; callers
// own activation and persistence.
func NewSession(academicLevel, subject string, ttl time.Duration, now time.Time) Session {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	expires := now.Add(ttl)

	s := Session{
		ID:            NewSessionID(now),
		AcademicLevel: academicLevel,
		Subject:       subject,
		Token:         NewToken(now),
		CreatedAt:     now,
		ExpiresAt:     expires,
		IsActive:      true,
	}

	payload := QRPayload{
		SessionID:     s.ID,
		Token:         s.Token,
		AcademicLevel: academicLevel,
		Subject:       subject,
		Timestamp:     now.UnixMilli(),
		ExpiresAt:     expires.UnixMilli(),
	}
	raw, _ := json.Marshal(payload)
	s.QRCode = string(raw)
	return s
}
