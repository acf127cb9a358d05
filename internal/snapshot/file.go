package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"classtrack/internal/attendance"
)

// FileStore keeps snapshots as JSON files in a directory. Used when
// Redis is not available (dev, single-host deployments).
type FileStore struct {
	dir string
}

// NewFileStore creates the snapshot directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// write marshals v and replaces the file atomically via rename.
func (s *FileStore) write(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) read(name string, v any) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("snapshot: read %s: %w", name, err)
	}
	return json.Unmarshal(raw, v)
}

func (s *FileStore) SaveSessions(_ context.Context, sessions []attendance.Session) error {
	return s.write("sessions.json", sessions)
}

func (s *FileStore) SaveRecords(_ context.Context, records []attendance.AttendanceRecord) error {
	return s.write("attendance-records.json", records)
}

func (s *FileStore) SaveStudents(_ context.Context, students []attendance.Student) error {
	return s.write("students.json", students)
}

// Load reads all three files. Missing files yield empty slices.
func (s *FileStore) Load(_ context.Context) ([]attendance.Session, []attendance.AttendanceRecord, []attendance.Student, error) {
	var (
		sessions []attendance.Session
		records  []attendance.AttendanceRecord
		students []attendance.Student
	)
	if err := s.read("sessions.json", &sessions); err != nil {
		return nil, nil, nil, err
	}
	if err := s.read("attendance-records.json", &records); err != nil {
		return nil, nil, nil, err
	}
	if err := s.read("students.json", &students); err != nil {
		return nil, nil, nil, err
	}
	return sessions, records, students, nil
}
