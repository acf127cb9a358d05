package attendance

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Score awarded for every accepted scan.
const ScanScore = 10

// A scan landing in the second half of the session window is recorded
// as late. Scoring is unaffected.
const lateFraction = 0.5

// Clock supplies the current time. Injectable so expiry behavior is
// testable without sleeping.
type Clock func() time.Time

// Snapshotter persists full-array snapshots of store state after each
// mutation. Implementations overwrite the previous blob; there is no
// incremental diffing.
type Snapshotter interface {
	SaveSessions(ctx context.Context, sessions []Session) error
	SaveRecords(ctx context.Context, records []AttendanceRecord) error
	SaveStudents(ctx context.Context, students []Student) error
}

// Mirror receives best-effort copies of local mutations. The store
// never inspects the outcome: a failed mirror must not affect the
// already-committed local result.
type Mirror interface {
	SessionUpserted(ctx context.Context, s Session)
	RecordInserted(ctx context.Context, r AttendanceRecord)
	StudentUpserted(ctx context.Context, st Student)
}

type nopSnapshotter struct{}

func (nopSnapshotter) SaveSessions(context.Context, []Session) error         { return nil }
func (nopSnapshotter) SaveRecords(context.Context, []AttendanceRecord) error { return nil }
func (nopSnapshotter) SaveStudents(context.Context, []Student) error         { return nil }

type nopMirror struct{}

func (nopMirror) SessionUpserted(context.Context, Session)         {}
func (nopMirror) RecordInserted(context.Context, AttendanceRecord) {}
func (nopMirror) StudentUpserted(context.Context, Student)         {}

// Store is the authoritative in-memory state: sessions with their
// attendee lists, the flattened attendance log, and the student
// roster. Snapshot persistence and remote mirroring are side effects,
// not sources of truth.
type Store struct {
	mu       sync.Mutex
	clock    Clock
	snap     Snapshotter
	mirror   Mirror
	sessions []*Session
	records  []AttendanceRecord
	students []*Student
	subs     map[int]func()
	nextSub  int
}

// NewStore creates a store. snap, mirror, and clock may be nil.
func NewStore(snap Snapshotter, mirror Mirror, clock Clock) *Store {
	if snap == nil {
		snap = nopSnapshotter{}
	}
	if mirror == nil {
		mirror = nopMirror{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		clock:  clock,
		snap:   snap,
		mirror: mirror,
		subs:   make(map[int]func()),
	}
}

// Restore replaces store state from previously persisted snapshots.
// Intended for process startup, before the store is shared.
func (st *Store) Restore(sessions []Session, records []AttendanceRecord, students []Student) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions = st.sessions[:0]
	for i := range sessions {
		s := sessions[i]
		st.sessions = append(st.sessions, &s)
	}
	st.records = append(st.records[:0], records...)
	st.students = st.students[:0]
	for i := range students {
		s := students[i]
		st.students = append(st.students, &s)
	}
}

// Subscribe registers fn to be called synchronously after every
// mutation. The returned function unsubscribes.
func (st *Store) Subscribe(fn func()) func() {
	st.mu.Lock()
	id := st.nextSub
	st.nextSub++
	st.subs[id] = fn
	st.mu.Unlock()
	return func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
	}
}

func (st *Store) notify() {
	st.mu.Lock()
	fns := make([]func(), 0, len(st.subs))
	for _, fn := range st.subs {
		fns = append(fns, fn)
	}
	st.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// CreateSession opens a new attendance window. All previously active
// sessions are deactivated first, so at most one session accepts scans
// at a time. It always succeeds.
func (st *Store) CreateSession(ctx context.Context, academicLevel, subject string, ttl time.Duration) Session {
	now := st.clock()
	session := NewSession(academicLevel, subject, ttl, now)

	st.mu.Lock()
	var deactivated []Session
	for _, s := range st.sessions {
		if s.IsActive {
			s.IsActive = false
			deactivated = append(deactivated, *s)
		}
	}
	st.sessions = append(st.sessions, &session)
	created := session
	st.persistSessionsLocked(ctx)
	st.mu.Unlock()

	for _, s := range deactivated {
		st.mirror.SessionUpserted(ctx, s)
	}
	st.mirror.SessionUpserted(ctx, created)
	st.notify()
	return created
}

// ActiveSession returns a copy of the session currently accepting
// scans, or nil. Expiry is checked lazily here: a session past its
// window is deactivated on read rather than by a timer.
func (st *Store) ActiveSession(ctx context.Context) *Session {
	now := st.clock()

	st.mu.Lock()
	var active *Session
	var expired []Session
	for _, s := range st.sessions {
		if !s.IsActive {
			continue
		}
		if s.Expired(now) {
			s.IsActive = false
			expired = append(expired, *s)
			continue
		}
		active = s
	}
	var out *Session
	if active != nil {
		cp := cloneSession(active)
		out = &cp
	}
	if len(expired) > 0 {
		st.persistSessionsLocked(ctx)
	}
	st.mu.Unlock()

	if len(expired) > 0 {
		for _, s := range expired {
			st.mirror.SessionUpserted(ctx, s)
		}
		st.notify()
	}
	return out
}

// EndSession deactivates the session with the given id.
func (st *Store) EndSession(ctx context.Context, id string) error {
	st.mu.Lock()
	session := st.findLocked(id)
	if session == nil {
		st.mu.Unlock()
		return ErrSessionNotFound
	}
	session.IsActive = false
	ended := *session
	st.persistSessionsLocked(ctx)
	st.mu.Unlock()

	st.mirror.SessionUpserted(ctx, ended)
	st.notify()
	return nil
}

// MarkAttendance validates the scanned payload against the store and,
// on acceptance, appends an attendee to the session and a record to
// the flattened log. Rejections leave the store untouched. The local
// commit never depends on snapshot or mirror outcomes.
func (st *Store) MarkAttendance(ctx context.Context, rawPayload string, claim Claim) Decision {
	now := st.clock()

	st.mu.Lock()
	decision := Validate(rawPayload, claim, st.findLocked, now)
	if !decision.OK {
		st.mu.Unlock()
		return decision
	}

	var payload QRPayload
	// Validate already parsed this successfully.
	_ = json.Unmarshal([]byte(rawPayload), &payload)
	session := st.findLocked(payload.SessionID)

	attendee := Attendee{
		StudentID:   claim.StudentID,
		StudentName: claim.StudentName,
		Email:       claim.Email,
		ScannedAt:   now,
		Score:       ScanScore,
	}
	session.Attendees = append(session.Attendees, attendee)

	record := AttendanceRecord{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		StudentID:     claim.StudentID,
		StudentName:   claim.StudentName,
		Subject:       session.Subject,
		AcademicLevel: session.AcademicLevel,
		ScannedAt:     now,
		Score:         ScanScore,
		Status:        scanStatus(session, now),
	}
	st.records = append(st.records, record)

	updated := cloneSession(session)
	st.persistSessionsLocked(ctx)
	st.persistRecordsLocked(ctx)
	st.mu.Unlock()

	st.mirror.SessionUpserted(ctx, updated)
	st.mirror.RecordInserted(ctx, record)
	st.notify()
	return decision
}

// RegisterStudent adds a student to the roster. The caller supplies a
// bcrypt hash; the store never sees plaintext credentials. Email must
// be unique.
func (st *Store) RegisterStudent(ctx context.Context, s Student) (Student, error) {
	st.mu.Lock()
	for _, existing := range st.students {
		if existing.Email == s.Email {
			st.mu.Unlock()
			return Student{}, ErrEmailTaken
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = st.clock()
	}
	stored := s
	st.students = append(st.students, &stored)
	st.persistStudentsLocked(ctx)
	st.mu.Unlock()

	st.mirror.StudentUpserted(ctx, s)
	st.notify()
	return s, nil
}

// StudentByID returns a copy of the student, or ErrStudentNotFound.
func (st *Store) StudentByID(id string) (Student, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.students {
		if s.ID == id {
			return cloneStudent(s), nil
		}
	}
	return Student{}, ErrStudentNotFound
}

// StudentByEmail returns a copy of the student, or ErrStudentNotFound.
func (st *Store) StudentByEmail(email string) (Student, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.students {
		if s.Email == email {
			return cloneStudent(s), nil
		}
	}
	return Student{}, ErrStudentNotFound
}

// Session returns a copy of the session with the given id.
func (st *Store) Session(id string) (Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.findLocked(id)
	if s == nil {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// Sessions returns a copy of all sessions, oldest first.
func (st *Store) Sessions() []Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sessionsLocked()
}

// Records returns a copy of the flattened attendance log.
func (st *Store) Records() []AttendanceRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]AttendanceRecord, len(st.records))
	copy(out, st.records)
	return out
}

// Students returns a copy of the roster.
func (st *Store) Students() []Student {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.studentsLocked()
}

func (st *Store) findLocked(id string) *Session {
	for _, s := range st.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (st *Store) sessionsLocked() []Session {
	out := make([]Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, cloneSession(s))
	}
	return out
}

func (st *Store) studentsLocked() []Student {
	out := make([]Student, 0, len(st.students))
	for _, s := range st.students {
		out = append(out, cloneStudent(s))
	}
	return out
}

func (st *Store) persistSessionsLocked(ctx context.Context) {
	if err := st.snap.SaveSessions(ctx, st.sessionsLocked()); err != nil {
		log.Printf("snapshot sessions failed: %v", err)
	}
}

func (st *Store) persistRecordsLocked(ctx context.Context) {
	records := make([]AttendanceRecord, len(st.records))
	copy(records, st.records)
	if err := st.snap.SaveRecords(ctx, records); err != nil {
		log.Printf("snapshot records failed: %v", err)
	}
}

func (st *Store) persistStudentsLocked(ctx context.Context) {
	if err := st.snap.SaveStudents(ctx, st.studentsLocked()); err != nil {
		log.Printf("snapshot students failed: %v", err)
	}
}

func scanStatus(s *Session, now time.Time) string {
	window := s.ExpiresAt.Sub(s.CreatedAt)
	if window > 0 && now.Sub(s.CreatedAt) >= time.Duration(float64(window)*lateFraction) {
		return StatusLate
	}
	return StatusPresent
}

func cloneSession(s *Session) Session {
	cp := *s
	cp.Attendees = make([]Attendee, len(s.Attendees))
	copy(cp.Attendees, s.Attendees)
	return cp
}

func cloneStudent(s *Student) Student {
	cp := *s
	cp.Subjects = make([]string, len(s.Subjects))
	copy(cp.Subjects, s.Subjects)
	return cp
}
