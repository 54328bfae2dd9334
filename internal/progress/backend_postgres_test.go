package progress_test

import (
	"errors"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/progress"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := t.Context()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("progress"),
		postgres.WithUsername("pai"),
		postgres.WithPassword("pai"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	db, err := database.New(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Applying twice must be harmless.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	return db
}

func TestPostgresBackend(t *testing.T) {
	db := newTestDB(t)
	course := testCourse()
	backend, err := progress.NewPostgresBackend(db.Pool, courseMap{course.ID: course})
	if err != nil {
		t.Fatalf("NewPostgresBackend() error = %v", err)
	}
	ctx := t.Context()

	snap, err := backend.FetchProgress(ctx, "stu-1", course.ID)
	if err != nil {
		t.Fatalf("FetchProgress() error = %v", err)
	}
	if total, done := snap.Totals(); total != 4 || done != 0 {
		t.Errorf("Totals() = (%d, %d), want (4, 0)", total, done)
	}

	first, err := backend.CompleteLesson(ctx, "stu-1", "variables")
	if err != nil {
		t.Fatalf("CompleteLesson() error = %v", err)
	}
	again, err := backend.CompleteLesson(ctx, "stu-1", "variables")
	if err != nil {
		t.Fatalf("repeat CompleteLesson() error = %v", err)
	}
	if !again.CompletedAt.Equal(first.CompletedAt) {
		t.Errorf("repeat completion changed timestamp: %v -> %v", first.CompletedAt, again.CompletedAt)
	}

	// Completions outside the catalog are not reported.
	if _, err := backend.CompleteLesson(ctx, "stu-1", "retired-lesson"); err != nil {
		t.Fatalf("CompleteLesson() error = %v", err)
	}

	snap, err = backend.FetchProgress(ctx, "stu-1", course.ID)
	if err != nil {
		t.Fatalf("FetchProgress() error = %v", err)
	}
	if total, done := snap.Totals(); total != 4 || done != 1 {
		t.Errorf("Totals() = (%d, %d), want (4, 1)", total, done)
	}

	e := progress.NewEngine(progress.EngineConfig{StudentID: "stu-1", CourseID: course.ID, API: backend, Course: &course})
	if err := e.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !e.CanAccessLesson("basics", "expressions") {
		t.Error("expressions should be open after variables")
	}
	if got := e.ProgressPercent(); got != 25 {
		t.Errorf("ProgressPercent() = %d, want 25", got)
	}
}

func TestPostgresBackend_UnknownCourse(t *testing.T) {
	db := newTestDB(t)
	backend, err := progress.NewPostgresBackend(db.Pool, courseMap{})
	if err != nil {
		t.Fatalf("NewPostgresBackend() error = %v", err)
	}
	if _, err := backend.FetchProgress(t.Context(), "stu-1", "nope"); !errors.Is(err, progress.ErrUnknownCourse) {
		t.Errorf("FetchProgress() error = %v, want ErrUnknownCourse", err)
	}
}

func TestPostgresEventLogger(t *testing.T) {
	db := newTestDB(t)
	logger := progress.NewPostgresEventLogger(db.Pool)

	err := logger.LogEvent(progress.Event{
		StudentID: "stu-1",
		CourseID:  "algebra-f1",
		LessonID:  "variables",
		EventType: progress.EventLessonCompleted,
		Data:      map[string]any{"source": "test"},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	var count int
	if err := db.Pool.QueryRow(t.Context(),
		`SELECT COUNT(*) FROM progress_events WHERE student_id = $1 AND data->>'source' = 'test'`,
		"stu-1",
	).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Errorf("events = %d, want 1", count)
	}
}

func TestNewPostgresBackend_NilArgs(t *testing.T) {
	if _, err := progress.NewPostgresBackend(nil, courseMap{}); err == nil {
		t.Error("NewPostgresBackend(nil pool) should fail")
	}
}
