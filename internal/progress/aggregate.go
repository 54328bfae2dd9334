package progress

import "math"

// PercentComplete returns course completion in [0, 100].
//
// The catalog is authoritative for totals: when seq is non-empty the result is the
// share of seq present in completed, so stale IDs from another catalog never count.
// Only when seq is empty does a nested fallback snapshot supply both counts.
func PercentComplete(seq []string, completed *CompletionSet, fallback Snapshot) int {
	if len(seq) > 0 {
		done := 0
		for _, id := range seq {
			if completed.IsCompleted(id) {
				done++
			}
		}
		return percent(done, len(seq))
	}

	if fallback.Kind == KindNested {
		total, done := fallback.Totals()
		return percent(done, total)
	}
	return 0
}

// percent rounds half up.
func percent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(math.Floor(100*float64(done)/float64(total) + 0.5))
}
