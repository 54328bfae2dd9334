package progress

import (
	"slices"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// CanAccess reports whether lessonID may be opened given the canonical sequence and
// the completed lessons. Lessons outside seq are never accessible. The first lesson
// is always open; every other lesson requires only its immediate predecessor.
func CanAccess(seq []string, completed *CompletionSet, lessonID string) bool {
	idx := slices.Index(seq, catalog.CanonicalID(lessonID))
	switch {
	case idx < 0:
		return false
	case idx == 0:
		return true
	default:
		return completed.IsCompleted(seq[idx-1])
	}
}

// Prerequisite returns the lesson that must be completed before lessonID, or ""
// when lessonID is first or not in seq.
func Prerequisite(seq []string, lessonID string) string {
	idx := slices.Index(seq, catalog.CanonicalID(lessonID))
	if idx <= 0 {
		return ""
	}
	return seq[idx-1]
}
