package attendance

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reason is a stable machine-readable code for a scan outcome, so
// callers and metrics do not have to match on message text.
type Reason string

const (
	ReasonAccepted        Reason = "accepted"
	ReasonBadFormat       Reason = "bad_format"
	ReasonMissingFields   Reason = "missing_fields"
	ReasonExpired         Reason = "expired"
	ReasonSessionNotFound Reason = "session_not_found"
	ReasonSessionInactive Reason = "session_inactive"
	ReasonTokenMismatch   Reason = "token_mismatch"
	ReasonDuplicate       Reason = "duplicate"
	ReasonSubjectMismatch Reason = "subject_mismatch"
)

// Decision is the outcome of validating one scan. Rejections are
// values, never errors: Message is shown to the student verbatim.
type Decision struct {
	OK      bool   `json:"success"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func reject(reason Reason, message string) Decision {
	return Decision{OK: false, Reason: reason, Message: message}
}

// Validate runs the scan checks in order, short-circuiting on the
// first failure. lookup resolves a session id to the stored session
// (nil when absent). The checks are read-only; committing an accepted
// scan is the store's job.
//
// Order: parse, required fields, payload expiry, session exists,
// session active, token match, duplicate attendee, subject match.
func Validate(raw string, claim Claim, lookup func(id string) *Session, now time.Time) Decision {
	var payload QRPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return reject(ReasonBadFormat, "Invalid QR code format")
	}

	if payload.SessionID == "" || payload.Token == "" || payload.ExpiresAt == 0 {
		return reject(ReasonMissingFields, "QR code is missing required data")
	}

	// A scan at exactly the expiry instant is expired.
	if !now.Before(time.UnixMilli(payload.ExpiresAt)) {
		return reject(ReasonExpired, "QR code has expired")
	}

	session := lookup(payload.SessionID)
	if session == nil {
		return reject(ReasonSessionNotFound, "Session not found")
	}

	if !session.IsActive {
		return reject(ReasonSessionInactive, "Session is no longer active")
	}

	if payload.Token != session.Token {
		return reject(ReasonTokenMismatch, "Invalid QR code token")
	}

	if session.HasAttendee(claim.StudentID) {
		return reject(ReasonDuplicate, "You have already marked attendance for this session")
	}

	if claim.Subject != session.Subject {
		return reject(ReasonSubjectMismatch, fmt.Sprintf(
			"This QR code is for %s, but you selected %s", session.Subject, claim.Subject))
	}

	return Decision{
		OK:     true,
		Reason: ReasonAccepted,
		Message: fmt.Sprintf("Attendance marked for %s at %s",
			session.Subject, now.Format("3:04 PM")),
	}
}
