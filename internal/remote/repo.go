package remote

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"classtrack/internal/attendance"
)

// Repository mirrors store state to Postgres. The remote tables are an
// upsert/insert/select surface only; the in-memory store stays
// authoritative.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the remote tables when they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id             TEXT PRIMARY KEY,
		subject        TEXT NOT NULL,
		academic_level TEXT NOT NULL,
		token          TEXT NOT NULL,
		qr_payload     TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		expires_at     TIMESTAMPTZ NOT NULL,
		active         BOOLEAN NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		student_id     TEXT NOT NULL,
		student_name   TEXT NOT NULL,
		subject        TEXT NOT NULL,
		academic_level TEXT NOT NULL,
		scanned_at     TIMESTAMPTZ NOT NULL,
		status         TEXT NOT NULL,
		score          INT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS students (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		email          TEXT UNIQUE NOT NULL,
		password_hash  TEXT NOT NULL,
		academic_level TEXT NOT NULL,
		subjects       TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_records_session ON attendance_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_records_student ON attendance_records(student_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// UpsertSession writes or refreshes a session row.
func (r *Repository) UpsertSession(ctx context.Context, s attendance.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject, academic_level, token, qr_payload, created_at, expires_at, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			updated_at = NOW()
	`, s.ID, s.Subject, s.AcademicLevel, s.Token, s.QRCode, s.CreatedAt, s.ExpiresAt, s.IsActive)
	return err
}

// InsertRecord appends one attendance-record row. Records are
// append-only; a conflicting id means the row is already mirrored.
func (r *Repository) InsertRecord(ctx context.Context, rec attendance.AttendanceRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, student_name, subject, academic_level, scanned_at, status, score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.SessionID, rec.StudentID, rec.StudentName, rec.Subject, rec.AcademicLevel, rec.ScannedAt, rec.Status, rec.Score)
	return err
}

// UpsertStudent writes or refreshes a student row.
func (r *Repository) UpsertStudent(ctx context.Context, s attendance.Student) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, email, password_hash, academic_level, subjects, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			academic_level = EXCLUDED.academic_level,
			subjects = EXCLUDED.subjects,
			updated_at = NOW()
	`, s.ID, s.Name, s.Email, s.PasswordHash, s.AcademicLevel, strings.Join(s.Subjects, ","), s.CreatedAt)
	return err
}

// GetSession reads one session row.
func (r *Repository) GetSession(ctx context.Context, id string) (*attendance.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, subject, academic_level, token, qr_payload, created_at, expires_at, active
		FROM sessions WHERE id = $1
	`, id)
	var s attendance.Session
	if err := row.Scan(&s.ID, &s.Subject, &s.AcademicLevel, &s.Token, &s.QRCode, &s.CreatedAt, &s.ExpiresAt, &s.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListRecords returns mirrored attendance records, newest first, with
// optional session/student filters.
func (r *Repository) ListRecords(ctx context.Context, sessionID, studentID string, limit, offset int) ([]attendance.AttendanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, session_id, student_id, student_name, subject, academic_level, scanned_at, status, score FROM attendance_records`
	args := []any{}
	var clauses []string
	if sessionID != "" {
		args = append(args, sessionID)
		clauses = append(clauses, "session_id = $"+strconv.Itoa(len(args)))
	}
	if studentID != "" {
		args = append(args, studentID)
		clauses = append(clauses, "student_id = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY scanned_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.AttendanceRecord
	for rows.Next() {
		var rec attendance.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.StudentName, &rec.Subject, &rec.AcademicLevel, &rec.ScannedAt, &rec.Status, &rec.Score); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// RecordCountSince reports how many records landed remotely after t.
// Used by health reporting to spot a lagging mirror.
func (r *Repository) RecordCountSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE created_at >= $1`, t).Scan(&n)
	return n, err
}
