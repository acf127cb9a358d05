package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingMirror captures mirrored writes; failures are simulated by
// the adapter in production, so here it only observes.
type recordingMirror struct {
	mu       sync.Mutex
	sessions []Session
	records  []AttendanceRecord
	students []Student
}

func (m *recordingMirror) SessionUpserted(_ context.Context, s Session) {
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
}

func (m *recordingMirror) RecordInserted(_ context.Context, r AttendanceRecord) {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
}

func (m *recordingMirror) StudentUpserted(_ context.Context, s Student) {
	m.mu.Lock()
	m.students = append(m.students, s)
	m.mu.Unlock()
}

// failingSnapshotter simulates a broken persistence layer; the store
// must absorb the failures.
type failingSnapshotter struct{}

func (failingSnapshotter) SaveSessions(context.Context, []Session) error {
	return errors.New("disk full")
}
func (failingSnapshotter) SaveRecords(context.Context, []AttendanceRecord) error {
	return errors.New("disk full")
}
func (failingSnapshotter) SaveStudents(context.Context, []Student) error {
	return errors.New("disk full")
}

func newTestStore(clk *fakeClock) (*Store, *recordingMirror) {
	m := &recordingMirror{}
	return NewStore(nil, m, clk.Now), m
}

func registerTestStudent(t *testing.T, st *Store, id string, subjects ...string) Student {
	t.Helper()
	s, err := st.RegisterStudent(context.Background(), Student{
		ID:            id,
		Name:          "Maya Okafor",
		Email:         id + "@example.edu",
		PasswordHash:  "$2a$10$hash",
		AcademicLevel: "Second Year",
		Subjects:      subjects,
	})
	if err != nil {
		t.Fatalf("register student: %v", err)
	}
	return s
}

func TestCreateSessionSingleActiveInvariant(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st, _ := newTestStore(clk)
	ctx := context.Background()

	st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	st.CreateSession(ctx, "Second Year", "Music Theory", 0)
	latest := st.CreateSession(ctx, "First Year", "Math", 0)

	active := 0
	for _, s := range st.Sessions() {
		if s.IsActive {
			active++
			if s.ID != latest.ID {
				t.Errorf("active session is %s, want %s", s.ID, latest.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("active sessions = %d, want 1", active)
	}
}

func TestMarkAttendanceScenarioAccept(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st, m := newTestStore(clk)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	clk.Advance(time.Minute)

	d := st.MarkAttendance(ctx, session.QRCode, Claim{
		StudentID: "s-1001", StudentName: "Maya Okafor",
		Email: "maya@example.edu", Subject: "Hymn Singing",
	})
	if !d.OK {
		t.Fatalf("scan rejected: %s: %s", d.Reason, d.Message)
	}

	got, err := st.Session(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Attendees) != 1 {
		t.Fatalf("attendee count = %d, want 1", len(got.Attendees))
	}
	if got.Attendees[0].Score != ScanScore {
		t.Errorf("score = %d, want %d", got.Attendees[0].Score, ScanScore)
	}

	records := st.Records()
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	if records[0].Status != StatusPresent {
		t.Errorf("status = %q, want %q", records[0].Status, StatusPresent)
	}
	if records[0].SessionID != session.ID || records[0].Subject != "Hymn Singing" {
		t.Errorf("record = %+v", records[0])
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) != 1 {
		t.Errorf("mirrored records = %d, want 1", len(m.records))
	}
}

func TestMarkAttendanceDuplicateIsIdempotent(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st, _ := newTestStore(clk)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	claim := Claim{StudentID: "s-1001", StudentName: "Maya Okafor", Subject: "Hymn Singing"}

	if d := st.MarkAttendance(ctx, session.QRCode, claim); !d.OK {
		t.Fatalf("first scan rejected: %s", d.Message)
	}
	d := st.MarkAttendance(ctx, session.QRCode, claim)
	if d.OK || d.Reason != ReasonDuplicate {
		t.Fatalf("second scan: got %+v, want duplicate rejection", d)
	}

	got, _ := st.Session(session.ID)
	if len(got.Attendees) != 1 {
		t.Errorf("attendee count after duplicate = %d, want 1", len(got.Attendees))
	}
	if len(st.Records()) != 1 {
		t.Errorf("record count after duplicate = %d, want 1", len(st.Records()))
	}
}

func TestActiveSessionLazyExpiry(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st, _ := newTestStore(clk)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 5*time.Minute)

	if got := st.ActiveSession(ctx); got == nil || got.ID != session.ID {
		t.Fatal("session should be active before expiry")
	}

	clk.Advance(5*time.Minute + time.Second)

	if got := st.ActiveSession(ctx); got != nil {
		t.Fatalf("expired session still returned: %+v", got)
	}
	stored, _ := st.Session(session.ID)
	if stored.IsActive {
		t.Error("expired session should be deactivated on read")
	}
}

func TestMarkAttendanceSubjectMismatchLeavesStoreUntouched(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st, _ := newTestStore(clk)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	d := st.MarkAttendance(ctx, session.QRCode, Claim{
		StudentID: "s-1001", StudentName: "Maya Okafor", Subject: "Math",
	})
	if d.OK || d.Reason != ReasonSubjectMismatch {
		t.Fatalf("got %+v, want subject_mismatch rejection", d)
	}

	got, _ := st.Session(session.ID)
	if len(got.Attendees) != 0 {
		t.Errorf("attendee count = %d, want 0", len(got.Attendees))
	}
	if len(st.Records()) != 0 {
		t.Errorf("record count = %d, want 0", len(st.Records()))
	}
}

func TestMarkAttendanceSucceedsWhenPersistenceFails(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st := NewStore(failingSnapshotter{}, nil, clk.Now)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	d := st.MarkAttendance(ctx, session.QRCode, Claim{
		StudentID: "s-1001", StudentName: "Maya Okafor", Subject: "Hymn Singing",
	})
	if !d.OK {
		t.Fatalf("local commit must not depend on persistence: %s", d.Message)
	}
	if len(st.Records()) != 1 {
		t.Errorf("record count = %d, want 1", len(st.Records()))
	}
}

func TestScanInSecondHalfIsLate(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st, _ := newTestStore(clk)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 30*time.Minute)
	clk.Advance(20 * time.Minute)

	d := st.MarkAttendance(ctx, session.QRCode, Claim{
		StudentID: "s-1001", StudentName: "Maya Okafor", Subject: "Hymn Singing",
	})
	if !d.OK {
		t.Fatalf("scan rejected: %s", d.Message)
	}
	records := st.Records()
	if records[0].Status != StatusLate {
		t.Errorf("status = %q, want %q", records[0].Status, StatusLate)
	}
	if records[0].Score != ScanScore {
		t.Errorf("late scans keep the fixed score, got %d", records[0].Score)
	}
}

func TestEndSession(t *testing.T) {
	clk := newFakeClock(time.Now())
	st, _ := newTestStore(clk)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	if err := st.EndSession(ctx, session.ID); err != nil {
		t.Fatal(err)
	}
	if got := st.ActiveSession(ctx); got != nil {
		t.Error("ended session should not be active")
	}
	if err := st.EndSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRegisterStudentRejectsDuplicateEmail(t *testing.T) {
	clk := newFakeClock(time.Now())
	st, m := newTestStore(clk)

	registerTestStudent(t, st, "s-1001", "Hymn Singing")
	_, err := st.RegisterStudent(context.Background(), Student{
		Name: "Other", Email: "s-1001@example.edu", PasswordHash: "x",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.students) != 1 {
		t.Errorf("mirrored students = %d, want 1", len(m.students))
	}
}

func TestSubscribeNotifiedOnMutations(t *testing.T) {
	clk := newFakeClock(time.Now())
	st, _ := newTestStore(clk)
	ctx := context.Background()

	var notified int
	unsubscribe := st.Subscribe(func() { notified++ })

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	if notified != 1 {
		t.Fatalf("notified = %d after create, want 1", notified)
	}

	st.MarkAttendance(ctx, session.QRCode, Claim{
		StudentID: "s-1001", StudentName: "Maya Okafor", Subject: "Hymn Singing",
	})
	if notified != 2 {
		t.Fatalf("notified = %d after scan, want 2", notified)
	}

	unsubscribe()
	st.CreateSession(ctx, "First Year", "Math", 0)
	if notified != 2 {
		t.Errorf("notified = %d after unsubscribe, want 2", notified)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	clk := newFakeClock(time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	st, _ := newTestStore(clk)
	ctx := context.Background()

	session := st.CreateSession(ctx, "Second Year", "Hymn Singing", 0)
	registerTestStudent(t, st, "s-1001", "Hymn Singing")
	st.MarkAttendance(ctx, session.QRCode, Claim{
		StudentID: "s-1001", StudentName: "Maya Okafor", Subject: "Hymn Singing",
	})

	restored, _ := newTestStore(clk)
	restored.Restore(st.Sessions(), st.Records(), st.Students())

	if len(restored.Sessions()) != 1 || len(restored.Records()) != 1 || len(restored.Students()) != 1 {
		t.Fatalf("restore lost data: %d sessions, %d records, %d students",
			len(restored.Sessions()), len(restored.Records()), len(restored.Students()))
	}
	// A duplicate scan must still be detected after restore.
	d := restored.MarkAttendance(ctx, session.QRCode, Claim{
		StudentID: "s-1001", StudentName: "Maya Okafor", Subject: "Hymn Singing",
	})
	if d.Reason != ReasonDuplicate {
		t.Errorf("reason after restore = %s, want %s", d.Reason, ReasonDuplicate)
	}
}
