// Package progress tracks lesson completion for a student in a course and decides
// which lessons the student may open.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a student identity
	// and none was supplied. No remote call is made.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnknownLesson is returned when completing a lesson that is not in the catalog.
	ErrUnknownLesson = errors.New("unknown lesson")

	// ErrUnknownCourse is returned by backends asked about a course they do not know.
	ErrUnknownCourse = errors.New("unknown course")

	// ErrUpstreamUnauthorized is returned when the progress service rejects this
	// service's own credentials. It says nothing about the student.
	ErrUpstreamUnauthorized = errors.New("progress service rejected credentials")

	// ErrResponseTooLarge is returned when the progress service sends more than
	// the client is willing to read.
	ErrResponseTooLarge = errors.New("progress response too large")
)

// Receipt confirms that a completion was durably recorded.
type Receipt struct {
	LessonID    string    `json:"lesson_id"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// API is the remote progress service.
type API interface {
	FetchProgress(ctx context.Context, studentID, courseID string) (Snapshot, error)
	CompleteLesson(ctx context.Context, studentID, lessonID string) (Receipt, error)
}

// CourseSource resolves course catalogs by ID. *catalog.Loader implements it.
type CourseSource interface {
	GetCourse(id string) (catalog.Course, bool)
}
