package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/config"
	"classtrack/internal/metrics"
	"classtrack/internal/queue"
	"classtrack/internal/remote"
	"classtrack/internal/sheets"
	"classtrack/internal/store"
)

// Worker drains the outbox: failed remote writes are retried with
// exponential backoff, and attendance rows that exhaust their attempts
// are handed to the spreadsheet fallback so they are not lost.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, retries will fail until it returns: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	var repo *remote.Repository
	if db != nil {
		repo = remote.NewRepository(db.Client)
		if err := repo.Migrate(ctx); err != nil {
			log.Printf("warning: remote migrate failed: %v", err)
		}
	}

	sheetsClient := sheets.New(cfg.SheetsWebhookURL)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("outbox consume init failed: %v", err)
	}

	log.Println("outbox worker started, waiting for messages...")
	for msg := range messages {
		processMessage(ctx, msg, repo, q, sheetsClient, cfg)
	}

	log.Println("outbox worker stopped")
}

func processMessage(ctx context.Context, msg queue.Message, repo *remote.Repository, q queue.Queue, fallback *sheets.Client, cfg config.App) {
	metrics.OutboxRetries.Inc()

	err := replay(ctx, msg, repo)
	if err == nil {
		log.Printf("outbox %s replayed after %d attempts", msg.Kind, msg.Attempts+1)
		return
	}
	log.Printf("outbox %s replay failed (attempt %d): %v", msg.Kind, msg.Attempts+1, err)

	msg.Attempts++
	if msg.Attempts < cfg.SyncMaxAttempts {
		// Exponential backoff before the message goes back on the
		// list. The worker is single-threaded over the outbox, so
		// sleeping here throttles the whole retry stream.
		backoff := cfg.SyncRetryBase * time.Duration(1<<(msg.Attempts-1))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if err := q.Publish(ctx, msg); err != nil {
			log.Printf("outbox requeue failed: %v", err)
		}
		return
	}

	// Out of attempts. Attendance rows still have a home in the
	// spreadsheet; everything else is logged and dropped.
	if msg.Kind == queue.KindRecord && fallback.Enabled() {
		var rec attendance.AttendanceRecord
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.Printf("outbox record decode failed: %v", err)
			return
		}
		row := sheets.AttendanceRow{
			SessionID:     rec.SessionID,
			StudentID:     rec.StudentID,
			StudentName:   rec.StudentName,
			Subject:       rec.Subject,
			AcademicLevel: rec.AcademicLevel,
			ScannedAt:     rec.ScannedAt,
			Status:        rec.Status,
			Score:         rec.Score,
		}
		if err := fallback.AppendAttendance(ctx, row); err != nil {
			log.Printf("fallback attendance append failed: %v", err)
			return
		}
		metrics.FallbackWrites.Inc()
		_ = fallback.AppendErrorLog(ctx, sheets.ErrorRow{
			When:   time.Now().UTC(),
			Op:     "outbox record replay",
			Detail: "remote store unavailable after " + strconv.Itoa(msg.Attempts) + " attempts",
		})
		log.Printf("outbox record %s routed to spreadsheet fallback", rec.ID)
		return
	}
	log.Printf("outbox %s dropped after %d attempts", msg.Kind, msg.Attempts)
}

func replay(ctx context.Context, msg queue.Message, repo *remote.Repository) error {
	if repo == nil {
		return errNoRemote
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch msg.Kind {
	case queue.KindSession:
		var s attendance.Session
		if err := json.Unmarshal(msg.Body, &s); err != nil {
			return err
		}
		return repo.UpsertSession(wctx, s)
	case queue.KindRecord:
		var r attendance.AttendanceRecord
		if err := json.Unmarshal(msg.Body, &r); err != nil {
			return err
		}
		return repo.InsertRecord(wctx, r)
	case queue.KindStudent:
		var s attendance.Student
		if err := json.Unmarshal(msg.Body, &s); err != nil {
			return err
		}
		return repo.UpsertStudent(wctx, s)
	}
	return errUnknownKind
}

var (
	errNoRemote    = errors.New("remote store not configured")
	errUnknownKind = errors.New("unknown outbox message kind")
)
