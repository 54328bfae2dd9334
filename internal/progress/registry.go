package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

type pair struct {
	studentID string
	courseID  string
}

type registryEntry struct {
	engine   *Engine
	lastUsed time.Time
}

// Registry hands out exactly one Engine per (student, course) pair so completion
// state is never split across instances. Engines idle for longer than the eviction
// window are dropped; the next lookup builds a fresh one from the backend.
type Registry struct {
	api     API
	cache   SnapshotCache
	hooks   Hooks
	now     func() time.Time
	engines map[pair]*registryEntry
	mu      sync.Mutex
}

// NewRegistry creates a registry whose engines share api, cache and hooks.
func NewRegistry(api API, cache SnapshotCache, hooks Hooks) *Registry {
	return &Registry{
		api:     api,
		cache:   cache,
		hooks:   hooks,
		now:     time.Now,
		engines: make(map[pair]*registryEntry),
	}
}

// Engine returns the engine for the pair, creating it on first use. The second
// result reports whether the engine was just created.
func (r *Registry) Engine(studentID, courseID string) (*Engine, bool) {
	key := pair{catalog.CanonicalID(studentID), catalog.CanonicalID(courseID)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.engines[key]; ok {
		entry.lastUsed = r.now()
		return entry.engine, false
	}
	e := NewEngine(EngineConfig{
		StudentID: key.studentID,
		CourseID:  key.courseID,
		API:       r.api,
		Cache:     r.cache,
		Hooks:     r.hooks,
	})
	r.engines[key] = &registryEntry{engine: e, lastUsed: r.now()}
	return e, true
}

// Len returns the number of live engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// EvictIdle drops engines not looked up within maxIdle and returns how many were
// dropped. maxIdle must exceed the longest request, or a request still holding an
// evicted engine could overlap with its replacement.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	evicted := 0
	for key, entry := range r.engines {
		if !entry.lastUsed.After(cutoff) {
			delete(r.engines, key)
			evicted++
		}
	}
	return evicted
}

// RunEviction calls EvictIdle every maxIdle/2 until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, maxIdle time.Duration) {
	ticker := time.NewTicker(max(maxIdle/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictIdle(maxIdle); n > 0 {
				slog.Debug("evicted idle progress engines", "count", n, "remaining", r.Len())
			}
		}
	}
}
