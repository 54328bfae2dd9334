package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

const dbTimeout = 5 * time.Second

// PostgresBackend is a PostgreSQL-backed implementation of API. Completions live in
// lesson_completions; snapshots are shaped by the catalog.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	courses CourseSource
}

// NewPostgresBackend creates a PostgreSQL-backed progress backend.
func NewPostgresBackend(pool *pgxpool.Pool, courses CourseSource) (*PostgresBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if courses == nil {
		return nil, fmt.Errorf("course source is nil")
	}
	return &PostgresBackend{pool: pool, courses: courses}, nil
}

func (b *PostgresBackend) FetchProgress(ctx context.Context, studentID, courseID string) (Snapshot, error) {
	studentID = catalog.CanonicalID(studentID)
	if studentID == "" {
		return Snapshot{}, ErrNotAuthenticated
	}
	course, ok := b.courses.GetCourse(courseID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownCourse, courseID)
	}

	lessonIDs := catalog.Normalize(course.Modules)
	if len(lessonIDs) == 0 {
		return SnapshotFromCourse(course, func(string) bool { return false }), nil
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := b.pool.Query(ctx,
		`SELECT lesson_id
		 FROM lesson_completions
		 WHERE student_id = $1
		   AND lesson_id = ANY($2)`,
		studentID,
		lessonIDs,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query completions: %w", err)
	}
	completed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan completions: %w", err)
	}

	done := NewCompletionSet(completed...)
	return SnapshotFromCourse(course, done.IsCompleted), nil
}

func (b *PostgresBackend) CompleteLesson(ctx context.Context, studentID, lessonID string) (Receipt, error) {
	studentID = catalog.CanonicalID(studentID)
	lessonID = catalog.CanonicalID(lessonID)
	if studentID == "" {
		return Receipt{}, ErrNotAuthenticated
	}
	if lessonID == "" {
		return Receipt{}, fmt.Errorf("lesson_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	// Re-completing keeps the original timestamp.
	var completedAt time.Time
	err := b.pool.QueryRow(ctx,
		`INSERT INTO lesson_completions (student_id, lesson_id, completed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (student_id, lesson_id)
		 DO UPDATE SET completed_at = lesson_completions.completed_at
		 RETURNING completed_at`,
		studentID,
		lessonID,
	).Scan(&completedAt)
	if err != nil {
		return Receipt{}, fmt.Errorf("insert completion: %w", err)
	}

	return Receipt{LessonID: lessonID, CompletedAt: completedAt}, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
