package progress

import (
	"maps"
	"slices"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// CompletionSet is the set of lesson IDs considered complete right now.
// It is not safe for concurrent use; Engine guards its own set.
type CompletionSet struct {
	ids map[string]struct{}
}

// NewCompletionSet creates a set holding ids.
func NewCompletionSet(ids ...string) *CompletionSet {
	s := &CompletionSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.MarkComplete(id)
	}
	return s
}

// Load replaces the contents of the set with the completions recorded in snap.
// Nested snapshots contribute lessons flagged completed, flat snapshots contribute
// every listed ID, and unrecognized snapshots leave the set empty.
func (s *CompletionSet) Load(snap Snapshot) {
	s.ids = make(map[string]struct{})

	switch snap.Kind {
	case KindNested:
		for _, m := range snap.Modules {
			for _, l := range m.Lessons {
				if l.Completed {
					s.MarkComplete(l.ID)
				}
			}
		}
	case KindFlat:
		for _, id := range snap.LessonIDs {
			s.MarkComplete(id)
		}
	}
}

// MarkComplete adds lessonID to the set. It reports whether the ID was new.
func (s *CompletionSet) MarkComplete(lessonID string) bool {
	id := catalog.CanonicalID(lessonID)
	if id == "" {
		return false
	}
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// IsCompleted reports whether lessonID is in the set.
func (s *CompletionSet) IsCompleted(lessonID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[catalog.CanonicalID(lessonID)]
	return ok
}

// Len returns the number of completed lessons.
func (s *CompletionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the completed lesson IDs in sorted order.
func (s *CompletionSet) IDs() []string {
	if s == nil {
		return []string{}
	}
	return slices.Sorted(maps.Keys(s.ids))
}

// Clone returns an independent copy of the set.
func (s *CompletionSet) Clone() *CompletionSet {
	if s == nil {
		return NewCompletionSet()
	}
	return &CompletionSet{ids: maps.Clone(s.ids)}
}
