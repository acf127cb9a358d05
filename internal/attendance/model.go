package attendance

import (
	"time"
)

// QRPayload is the JSON document encoded into a session's QR image.
// The field names and ms-epoch timestamps are part of the wire format
// scanned by student devices, so they must round-trip exactly.
type QRPayload struct {
	SessionID     string `json:"sessionId"`
	Token         string `json:"token"`
	AcademicLevel string `json:"academicLevel"`
	Subject       string `json:"subject"`
	Timestamp     int64  `json:"timestamp"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// Attendee is a student's recorded presence within one session.
// Entries are append-only and unique per (session, student).
type Attendee struct {
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Email       string    `json:"email"`
	ScannedAt   time.Time `json:"scannedAt"`
	Score       int       `json:"score"`
}

// Session is a time-boxed attendance window for one subject/level pair.
// Token is stored as a first-class field and compared directly during
// validation; QRCode keeps the serialized payload for rendering only.
type Session struct {
	ID            string     `json:"id"`
	AcademicLevel string     `json:"academicLevel"`
	Subject       string     `json:"subject"`
	Token         string     `json:"token"`
	QRCode        string     `json:"qrPayload"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	IsActive      bool       `json:"isActive"`
	Attendees     []Attendee `json:"attendees"`
}

// Expired reports whether the session window has closed at now.
// A scan at exactly the expiry instant is already expired.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// HasAttendee reports whether the student already checked in.
func (s *Session) HasAttendee(studentID string) bool {
	for _, a := range s.Attendees {
		if a.StudentID == studentID {
			return true
		}
	}
	return false
}

// Record statuses for the flattened attendance log.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

// AttendanceRecord is one append-only log entry per successful check-in.
type AttendanceRecord struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	StudentID     string    `json:"studentId"`
	StudentName   string    `json:"studentName"`
	Subject       string    `json:"subject"`
	AcademicLevel string    `json:"academicLevel"`
	ScannedAt     time.Time `json:"scannedAt"`
	Score         int       `json:"score"`
	Status        string    `json:"status"`
}

// Student is a registered student. PasswordHash is a bcrypt hash;
// plaintext credentials are never stored.
type Student struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"passwordHash"`
	AcademicLevel string    `json:"academicLevel"`
	Subjects      []string  `json:"subjects"`
	CreatedAt     time.Time `json:"createdAt"`
}

// EnrolledIn reports whether the student is enrolled in subject.
func (s *Student) EnrolledIn(subject string) bool {
	for _, sub := range s.Subjects {
		if sub == subject {
			return true
		}
	}
	return false
}

// Claim is what a scanning student asserts about themselves: identity
// plus the subject they are checking in for.
type Claim struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	Email       string `json:"email"`
	Subject     string `json:"subject"`
}
