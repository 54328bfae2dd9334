package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types recorded by EventHooks.
const (
	EventLessonCompleted      = "lesson_completed"
	EventLessonCompleteFailed = "lesson_complete_failed"
	EventProgressFetchFailed  = "progress_fetch_failed"
)

// Event represents a progress event persisted to the progress_events table.
type Event struct {
	StudentID string
	CourseID  string
	LessonID  string
	EventType string
	Data      map[string]any
	CreatedAt time.Time
}

// EventLogger defines event logging behavior.
type EventLogger interface {
	LogEvent(event Event) error
}

// NopEventLogger ignores all events.
type NopEventLogger struct{}

func (NopEventLogger) LogEvent(Event) error {
	return nil
}

// MemoryEventLogger stores events in memory for tests.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{
		events: []Event{},
	}
}

func (l *MemoryEventLogger) LogEvent(event Event) error {
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresEventLogger inserts events into the progress_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

func (l *PostgresEventLogger) LogEvent(event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if event.StudentID == "" {
		return fmt.Errorf("student_id is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO progress_events (student_id, course_id, lesson_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		event.StudentID,
		nullIfEmpty(event.CourseID),
		nullIfEmpty(event.LessonID),
		event.EventType,
		string(data),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"student_id", event.StudentID,
		"course_id", event.CourseID,
	)
	return nil
}

// EventHooks returns engine hooks that record completions and failures with logger.
// Logging errors are reported but never affect the engine.
func EventHooks(logger EventLogger) Hooks {
	record := func(ev Event) {
		if err := logger.LogEvent(ev); err != nil {
			slog.Warn("failed to log progress event", "type", ev.EventType, "error", err)
		}
	}
	return Hooks{
		OnCompleted: func(studentID, courseID string, receipt Receipt) {
			record(Event{
				StudentID: studentID,
				CourseID:  courseID,
				LessonID:  receipt.LessonID,
				EventType: EventLessonCompleted,
			})
		},
		OnCompleteFailed: func(studentID, courseID, lessonID string, err error) {
			record(Event{
				StudentID: studentID,
				CourseID:  courseID,
				LessonID:  lessonID,
				EventType: EventLessonCompleteFailed,
				Data:      map[string]any{"error": err.Error()},
			})
		},
		OnFetchFailed: func(studentID, courseID string, err error) {
			record(Event{
				StudentID: studentID,
				CourseID:  courseID,
				EventType: EventProgressFetchFailed,
				Data:      map[string]any{"error": err.Error()},
			})
		},
	}
}

// JoinHooks combines hooks so each callback fires in order.
func JoinHooks(hooks ...Hooks) Hooks {
	var out Hooks
	for _, h := range hooks {
		if h.OnCompleted != nil {
			prev := out.OnCompleted
			out.OnCompleted = func(s, c string, r Receipt) {
				if prev != nil {
					prev(s, c, r)
				}
				h.OnCompleted(s, c, r)
			}
		}
		if h.OnCompleteFailed != nil {
			prev := out.OnCompleteFailed
			out.OnCompleteFailed = func(s, c, l string, err error) {
				if prev != nil {
					prev(s, c, l, err)
				}
				h.OnCompleteFailed(s, c, l, err)
			}
		}
		if h.OnFetchFailed != nil {
			prev := out.OnFetchFailed
			out.OnFetchFailed = func(s, c string, err error) {
				if prev != nil {
					prev(s, c, err)
				}
				h.OnFetchFailed(s, c, err)
			}
		}
	}
	return out
}
