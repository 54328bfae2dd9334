package progress_test

import (
	"testing"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

func TestPercentComplete(t *testing.T) {
	seq := []string{"l1", "l2", "l3", "l4"}

	tests := []struct {
		name      string
		seq       []string
		completed []string
		fallback  progress.Snapshot
		want      int
	}{
		{"none", seq, nil, progress.Snapshot{}, 0},
		{"one of four", seq, []string{"l1"}, progress.Snapshot{}, 25},
		{"all", seq, []string{"l1", "l2", "l3", "l4"}, progress.Snapshot{}, 100},
		{"ids outside catalog ignored", seq, []string{"l1", "old-1", "old-2", "old-3"}, progress.Snapshot{}, 25},
		{"one of three rounds down", []string{"a", "b", "c"}, []string{"a"}, progress.Snapshot{}, 33},
		{"two of three rounds up", []string{"a", "b", "c"}, []string{"a", "b"}, progress.Snapshot{}, 67},
		{"one of eight rounds half up", []string{"1", "2", "3", "4", "5", "6", "7", "8"}, []string{"1"}, progress.Snapshot{}, 13},
		{
			name: "empty catalog uses nested snapshot",
			seq:  nil,
			fallback: progress.NestedSnapshot(progress.SnapshotModule{ID: "m", Lessons: []progress.SnapshotLesson{
				{ID: "a", Completed: true},
				{ID: "b", Completed: true},
				{ID: "c", Completed: true},
				{ID: "d"},
				{ID: "e"},
			}}),
			want: 60,
		},
		{"empty catalog with flat snapshot", nil, []string{"a"}, progress.FlatSnapshot("a"), 0},
		{"empty catalog and empty snapshot", nil, nil, progress.NestedSnapshot(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := progress.PercentComplete(tt.seq, progress.NewCompletionSet(tt.completed...), tt.fallback)
			if got != tt.want {
				t.Errorf("PercentComplete() = %d, want %d", got, tt.want)
			}
		})
	}
}
