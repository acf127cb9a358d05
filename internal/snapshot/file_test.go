package snapshot

import (
	"context"
	"testing"
	"time"

	"classtrack/internal/attendance"
)

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	sessions := []attendance.Session{{
		ID: "sess-1", Subject: "Hymn Singing", AcademicLevel: "Second Year",
		Token: "tok", CreatedAt: now, ExpiresAt: now.Add(30 * time.Minute), IsActive: true,
		Attendees: []attendance.Attendee{{StudentID: "s-1001", ScannedAt: now, Score: 10}},
	}}
	records := []attendance.AttendanceRecord{{
		ID: "rec-1", SessionID: "sess-1", StudentID: "s-1001",
		ScannedAt: now, Score: 10, Status: attendance.StatusPresent,
	}}
	students := []attendance.Student{{
		ID: "s-1001", Name: "Maya Okafor", Email: "maya@example.edu",
		PasswordHash: "$2a$10$hash", Subjects: []string{"Hymn Singing"},
	}}

	if err := fs.SaveSessions(ctx, sessions); err != nil {
		t.Fatal(err)
	}
	if err := fs.SaveRecords(ctx, records); err != nil {
		t.Fatal(err)
	}
	if err := fs.SaveStudents(ctx, students); err != nil {
		t.Fatal(err)
	}

	gotSessions, gotRecords, gotStudents, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotSessions) != 1 || gotSessions[0].ID != "sess-1" || len(gotSessions[0].Attendees) != 1 {
		t.Errorf("sessions = %+v", gotSessions)
	}
	if len(gotRecords) != 1 || gotRecords[0].Status != attendance.StatusPresent {
		t.Errorf("records = %+v", gotRecords)
	}
	if len(gotStudents) != 1 || gotStudents[0].PasswordHash == "" {
		t.Errorf("students = %+v", gotStudents)
	}
}

func TestFileStoreOverwritesPreviousBlob(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := fs.SaveSessions(ctx, []attendance.Session{{ID: "a"}, {ID: "b"}}); err != nil {
		t.Fatal(err)
	}
	if err := fs.SaveSessions(ctx, []attendance.Session{{ID: "c"}}); err != nil {
		t.Fatal(err)
	}

	sessions, _, _, err := fs.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "c" {
		t.Errorf("snapshot should be a full overwrite, got %+v", sessions)
	}
}

func TestFileStoreLoadEmptyDir(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sessions, records, students, err := fs.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions)+len(records)+len(students) != 0 {
		t.Error("fresh dir should load empty")
	}
}
