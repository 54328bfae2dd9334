package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// Hooks are optional callbacks fired by the Engine. They run synchronously on the
// calling goroutine after the Engine has released its lock.
type Hooks struct {
	OnCompleted      func(studentID, courseID string, receipt Receipt)
	OnCompleteFailed func(studentID, courseID, lessonID string, err error)
	OnFetchFailed    func(studentID, courseID string, err error)
}

// DefaultFetchTimeout bounds a shared snapshot fetch.
const DefaultFetchTimeout = 15 * time.Second

// EngineConfig holds dependencies for a progress engine.
type EngineConfig struct {
	StudentID    string
	CourseID     string
	API          API
	Cache        SnapshotCache   // optional
	Course       *catalog.Course // optional; can be supplied later with SetCourse
	Hooks        Hooks
	FetchTimeout time.Duration // defaults to DefaultFetchTimeout
}

// LessonStatus is the per-lesson view used by dashboards.
type LessonStatus struct {
	ModuleID     string `json:"module_id"`
	LessonID     string `json:"lesson_id"`
	Title        string `json:"title,omitempty"`
	Position     int    `json:"position"`
	Completed    bool   `json:"completed"`
	Accessible   bool   `json:"accessible"`
	Prerequisite string `json:"prerequisite,omitempty"`
}

type lessonRef struct {
	moduleID string
	title    string
}

// Engine tracks one student's progress through one course.
type Engine struct {
	studentID string
	courseID  string
	api       API
	cache     SnapshotCache
	hooks     Hooks
	timeout   time.Duration
	flight    singleflight.Group

	// generation changes on every confirmed completion. A fetch that saw a different
	// generation when it started must not write its snapshot to the cache.
	generation atomic.Uint64
	cacheMu    sync.Mutex

	mu        sync.RWMutex
	course    *catalog.Course
	seq       []string
	lessons   map[string]lessonRef
	completed *CompletionSet
	confirmed *CompletionSet // local confirmations, kept across reloads
	snapshot  Snapshot
}

// NewEngine creates a progress engine scoped to cfg.StudentID and cfg.CourseID.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		studentID: catalog.CanonicalID(cfg.StudentID),
		courseID:  catalog.CanonicalID(cfg.CourseID),
		api:       cfg.API,
		cache:     cfg.Cache,
		hooks:     cfg.Hooks,
		timeout:   cfg.FetchTimeout,
		seq:       []string{},
		lessons:   make(map[string]lessonRef),
		completed: NewCompletionSet(),
		confirmed: NewCompletionSet(),
	}
	if e.timeout <= 0 {
		e.timeout = DefaultFetchTimeout
	}
	if cfg.Course != nil {
		e.SetCourse(*cfg.Course)
	}
	return e
}

// StudentID returns the student the engine is scoped to.
func (e *Engine) StudentID() string { return e.studentID }

// CourseID returns the course the engine is scoped to.
func (e *Engine) CourseID() string { return e.courseID }

// SetCourse installs the catalog for the engine's course. The canonical sequence is
// rebuilt unless the same course revision is already installed; a zero revision
// always rebuilds.
func (e *Engine) SetCourse(course catalog.Course) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.course != nil && course.Revision != 0 &&
		e.course.ID == course.ID && e.course.Revision == course.Revision {
		return
	}

	lessons := make(map[string]lessonRef, course.LessonCount())
	for _, m := range course.Modules {
		for _, l := range m.Lessons {
			lessons[catalog.CanonicalID(l.ID)] = lessonRef{moduleID: m.ID, title: l.Title}
		}
	}

	e.course = &course
	e.seq = catalog.Normalize(course.Modules)
	e.lessons = lessons
}

// Refresh loads the completion snapshot, from the cache when present and from the API
// otherwise. Concurrent calls share a single fetch, which runs detached from any one
// caller's cancellation; each caller stops waiting when its own ctx is done. On
// failure the current state is kept and the error is returned; queries keep
// answering from that state.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.studentID == "" {
		return ErrNotAuthenticated
	}

	ch := e.flight.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.fetch(fetchCtx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fmt.Errorf("fetching progress: %w", ctx.Err())
	}

	v, err := res.Val, res.Err
	if err != nil {
		slog.Warn("progress fetch failed",
			"student_id", e.studentID,
			"course_id", e.courseID,
			"error", err,
		)
		if e.hooks.OnFetchFailed != nil {
			e.hooks.OnFetchFailed(e.studentID, e.courseID, err)
		}
		return fmt.Errorf("fetching progress: %w", err)
	}

	e.load(v.(Snapshot))
	return nil
}

func (e *Engine) fetch(ctx context.Context) (Snapshot, error) {
	gen := e.generation.Load()

	if e.cache != nil {
		snap, ok, err := e.cache.Get(ctx, e.studentID, e.courseID)
		if err != nil {
			slog.Warn("snapshot cache read failed", "error", err)
		} else if ok {
			return snap, nil
		}
	}

	if e.api == nil {
		return Snapshot{}, errors.New("no progress API configured")
	}

	snap, err := e.api.FetchProgress(ctx, e.studentID, e.courseID)
	if err != nil {
		return Snapshot{}, err
	}
	if snap.Kind == KindUnrecognized {
		slog.Warn("unrecognized progress snapshot, treating as empty",
			"student_id", e.studentID,
			"course_id", e.courseID,
		)
	}

	if e.cache != nil {
		e.cacheMu.Lock()
		if e.generation.Load() == gen {
			if err := e.cache.Set(ctx, e.studentID, e.courseID, snap); err != nil {
				slog.Warn("snapshot cache write failed", "error", err)
			}
		} else {
			slog.Debug("skipping cache write for snapshot older than a completion",
				"student_id", e.studentID,
				"course_id", e.courseID,
			)
		}
		e.cacheMu.Unlock()
	}
	return snap, nil
}

// Load replaces the completion state with snap, keeping lessons confirmed locally.
func (e *Engine) Load(snap Snapshot) {
	e.load(snap)
}

func (e *Engine) load(snap Snapshot) {
	set := NewCompletionSet()
	set.Load(snap)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.confirmed.IDs() {
		set.MarkComplete(id)
	}
	e.snapshot = snap
	e.completed = set
}

// IsLessonCompleted reports whether lessonID is completed.
func (e *Engine) IsLessonCompleted(lessonID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.completed.IsCompleted(lessonID)
}

// CanAccessLesson reports whether the student may open lessonID in moduleID.
// Lessons that are not part of moduleID in the current catalog are not accessible.
func (e *Engine) CanAccessLesson(moduleID, lessonID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.course.Lesson(moduleID, lessonID); !ok {
		return false
	}
	return CanAccess(e.seq, e.completed, lessonID)
}

// ProgressPercent returns course completion in [0, 100].
func (e *Engine) ProgressPercent() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return PercentComplete(e.seq, e.completed, e.snapshot)
}

// CompletedLessonIDs returns the completed lesson IDs in sorted order.
func (e *Engine) CompletedLessonIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.completed.IDs()
}

// Sequence returns a copy of the canonical lesson sequence.
func (e *Engine) Sequence() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.seq)
}

// Lessons returns the status of every catalog lesson in canonical order.
func (e *Engine) Lessons() []LessonStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]LessonStatus, 0, len(e.seq))
	for i, id := range e.seq {
		ref := e.lessons[id]
		out = append(out, LessonStatus{
			ModuleID:     ref.moduleID,
			LessonID:     id,
			Title:        ref.title,
			Position:     i + 1,
			Completed:    e.completed.IsCompleted(id),
			Accessible:   CanAccess(e.seq, e.completed, id),
			Prerequisite: Prerequisite(e.seq, id),
		})
	}
	return out
}

// CompleteLesson records lessonID as completed through the API. The local state is
// updated only after the API confirms; on failure it is left untouched and the error
// is returned so the caller can offer a retry.
func (e *Engine) CompleteLesson(ctx context.Context, lessonID string) (Receipt, error) {
	id := catalog.CanonicalID(lessonID)

	receipt, err := e.completeRemote(ctx, id)
	if err != nil {
		slog.Warn("lesson completion failed",
			"student_id", e.studentID,
			"course_id", e.courseID,
			"lesson_id", id,
			"error", err,
		)
		if e.hooks.OnCompleteFailed != nil {
			e.hooks.OnCompleteFailed(e.studentID, e.courseID, id, err)
		}
		return Receipt{}, err
	}

	e.mu.Lock()
	e.completed.MarkComplete(id)
	e.confirmed.MarkComplete(id)
	e.mu.Unlock()

	// The cached snapshot, and any fetch still in flight, predate this completion.
	e.cacheMu.Lock()
	e.generation.Add(1)
	if e.cache != nil {
		invCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		err := e.cache.Invalidate(invCtx, e.studentID, e.courseID)
		cancel()
		if err != nil {
			slog.Warn("snapshot cache invalidation failed", "error", err)
		}
	}
	e.cacheMu.Unlock()

	slog.Info("lesson completed",
		"student_id", e.studentID,
		"course_id", e.courseID,
		"lesson_id", id,
	)
	if e.hooks.OnCompleted != nil {
		e.hooks.OnCompleted(e.studentID, e.courseID, receipt)
	}
	return receipt, nil
}

func (e *Engine) completeRemote(ctx context.Context, id string) (Receipt, error) {
	if e.studentID == "" {
		return Receipt{}, ErrNotAuthenticated
	}

	e.mu.RLock()
	_, known := e.lessons[id]
	e.mu.RUnlock()
	if !known {
		return Receipt{}, fmt.Errorf("%w: %s", ErrUnknownLesson, id)
	}

	if e.api == nil {
		return Receipt{}, errors.New("no progress API configured")
	}

	receipt, err := e.api.CompleteLesson(ctx, e.studentID, id)
	if err != nil {
		return Receipt{}, fmt.Errorf("completing lesson %s: %w", id, err)
	}
	if receipt.LessonID == "" {
		receipt.LessonID = id
	}
	return receipt, nil
}
