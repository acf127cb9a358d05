// Package mirror is the remote sync adapter: every local mutation is
// copied to the remote store best-effort. The local result never
// depends on the outcome here. Failed writes are logged, counted,
// queued on the outbox for retry, and — for attendance rows — routed
// through the spreadsheet fallback. The fallback policy is uniform: it
// is this adapter's decision, never the caller's.
package mirror

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/metrics"
	"classtrack/internal/queue"
	"classtrack/internal/sheets"
)

// RemoteStore is the primary write surface (Postgres in production).
type RemoteStore interface {
	UpsertSession(ctx context.Context, s attendance.Session) error
	InsertRecord(ctx context.Context, r attendance.AttendanceRecord) error
	UpsertStudent(ctx context.Context, s attendance.Student) error
}

// FallbackSink is the backup path (the spreadsheet webhook).
type FallbackSink interface {
	Enabled() bool
	AppendAttendance(ctx context.Context, row sheets.AttendanceRow) error
	AppendErrorLog(ctx context.Context, row sheets.ErrorRow) error
}

// Adapter implements attendance.Mirror.
type Adapter struct {
	remote   RemoteStore
	outbox   queue.Queue
	fallback FallbackSink
	timeout  time.Duration
}

// New creates an adapter. remote, outbox, and fallback may each be nil
// when that leg is not configured.
func New(remote RemoteStore, outbox queue.Queue, fallback FallbackSink) *Adapter {
	return &Adapter{
		remote:   remote,
		outbox:   outbox,
		fallback: fallback,
		timeout:  5 * time.Second,
	}
}

// SessionUpserted mirrors a session write.
func (a *Adapter) SessionUpserted(ctx context.Context, s attendance.Session) {
	a.mirror(ctx, queue.KindSession, s, func(ctx context.Context) error {
		return a.remote.UpsertSession(ctx, s)
	}, nil)
}

// RecordInserted mirrors an attendance record; on failure the record
// additionally goes to the spreadsheet fallback.
func (a *Adapter) RecordInserted(ctx context.Context, r attendance.AttendanceRecord) {
	a.mirror(ctx, queue.KindRecord, r, func(ctx context.Context) error {
		return a.remote.InsertRecord(ctx, r)
	}, &r)
}

// StudentUpserted mirrors a student write.
func (a *Adapter) StudentUpserted(ctx context.Context, s attendance.Student) {
	a.mirror(ctx, queue.KindStudent, s, func(ctx context.Context) error {
		return a.remote.UpsertStudent(ctx, s)
	}, nil)
}

func (a *Adapter) mirror(ctx context.Context, kind string, entity any, write func(context.Context) error, record *attendance.AttendanceRecord) {
	if a.remote == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	err := write(wctx)
	if err == nil {
		return
	}

	// Availability over consistency: the local commit already
	// succeeded, so the failure is absorbed here.
	log.Printf("remote %s write failed: %v", kind, err)
	metrics.SyncFailures.WithLabelValues(kind).Inc()

	a.enqueue(wctx, kind, entity)
	a.logFailure(wctx, kind, err)
	if record != nil {
		a.writeFallback(wctx, *record)
	}
}

func (a *Adapter) enqueue(ctx context.Context, kind string, entity any) {
	if a.outbox == nil {
		return
	}
	body, err := json.Marshal(entity)
	if err != nil {
		log.Printf("outbox marshal %s failed: %v", kind, err)
		return
	}
	msg := queue.Message{Kind: kind, Body: body, EnqueuedAt: time.Now().UTC()}
	if err := a.outbox.Publish(ctx, msg); err != nil {
		log.Printf("outbox publish %s failed: %v", kind, err)
	}
}

func (a *Adapter) logFailure(ctx context.Context, kind string, cause error) {
	if a.fallback == nil || !a.fallback.Enabled() {
		return
	}
	row := sheets.ErrorRow{
		When:   time.Now().UTC(),
		Op:     "remote " + kind + " write",
		Detail: cause.Error(),
	}
	if err := a.fallback.AppendErrorLog(ctx, row); err != nil {
		log.Printf("fallback error-log append failed: %v", err)
	}
}

func (a *Adapter) writeFallback(ctx context.Context, r attendance.AttendanceRecord) {
	if a.fallback == nil || !a.fallback.Enabled() {
		return
	}
	row := sheets.AttendanceRow{
		SessionID:     r.SessionID,
		StudentID:     r.StudentID,
		StudentName:   r.StudentName,
		Subject:       r.Subject,
		AcademicLevel: r.AcademicLevel,
		ScannedAt:     r.ScannedAt,
		Status:        r.Status,
		Score:         r.Score,
	}
	if err := a.fallback.AppendAttendance(ctx, row); err != nil {
		log.Printf("fallback attendance append failed: %v", err)
		return
	}
	metrics.FallbackWrites.Inc()
}
