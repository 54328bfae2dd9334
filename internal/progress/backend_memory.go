package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// MemoryBackend is an in-memory implementation of API, used for local development
// and tests. Snapshots are built from the catalog in nested form.
type MemoryBackend struct {
	courses     CourseSource
	completions map[string]map[string]time.Time // student -> lesson -> completed at
	mu          sync.RWMutex
}

// NewMemoryBackend creates a new in-memory progress backend.
func NewMemoryBackend(courses CourseSource) *MemoryBackend {
	return &MemoryBackend{
		courses:     courses,
		completions: make(map[string]map[string]time.Time),
	}
}

func (b *MemoryBackend) FetchProgress(_ context.Context, studentID, courseID string) (Snapshot, error) {
	if studentID == "" {
		return Snapshot{}, ErrNotAuthenticated
	}
	course, ok := b.courses.GetCourse(courseID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownCourse, courseID)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	done := b.completions[catalog.CanonicalID(studentID)]
	return SnapshotFromCourse(course, func(id string) bool {
		_, ok := done[id]
		return ok
	}), nil
}

func (b *MemoryBackend) CompleteLesson(_ context.Context, studentID, lessonID string) (Receipt, error) {
	studentID = catalog.CanonicalID(studentID)
	lessonID = catalog.CanonicalID(lessonID)
	if studentID == "" {
		return Receipt{}, ErrNotAuthenticated
	}
	if lessonID == "" {
		return Receipt{}, fmt.Errorf("lesson_id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	done, ok := b.completions[studentID]
	if !ok {
		done = make(map[string]time.Time)
		b.completions[studentID] = done
	}
	at, ok := done[lessonID]
	if !ok {
		at = time.Now()
		done[lessonID] = at
	}
	return Receipt{LessonID: lessonID, CompletedAt: at}, nil
}
