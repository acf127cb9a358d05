// Package snapshot persists full-array JSON blobs of store state under
// separate string keys, one per entity list. Every save overwrites the
// previous blob; snapshots are a recovery aid, not a source of truth.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"classtrack/internal/attendance"
)

// Snapshot blob keys.
const (
	KeySessions = "classtrack:sessions"
	KeyRecords  = "classtrack:attendance-records"
	KeyStudents = "classtrack:students"
)

// RedisStore keeps snapshots in Redis string keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("snapshot: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string, v any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("snapshot: get %s: %w", key, err)
	}
	return json.Unmarshal(raw, v)
}

func (s *RedisStore) SaveSessions(ctx context.Context, sessions []attendance.Session) error {
	return s.save(ctx, KeySessions, sessions)
}

func (s *RedisStore) SaveRecords(ctx context.Context, records []attendance.AttendanceRecord) error {
	return s.save(ctx, KeyRecords, records)
}

func (s *RedisStore) SaveStudents(ctx context.Context, students []attendance.Student) error {
	return s.save(ctx, KeyStudents, students)
}

// Load reads all three blobs. Missing keys yield empty slices.
func (s *RedisStore) Load(ctx context.Context) ([]attendance.Session, []attendance.AttendanceRecord, []attendance.Student, error) {
	var (
		sessions []attendance.Session
		records  []attendance.AttendanceRecord
		students []attendance.Student
	)
	if err := s.load(ctx, KeySessions, &sessions); err != nil {
		return nil, nil, nil, err
	}
	if err := s.load(ctx, KeyRecords, &records); err != nil {
		return nil, nil, nil, err
	}
	if err := s.load(ctx, KeyStudents, &students); err != nil {
		return nil, nil, nil, err
	}
	return sessions, records, students, nil
}
