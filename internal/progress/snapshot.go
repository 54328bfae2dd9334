package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-progress/internal/catalog"
)

// SnapshotKind tags the shape a remote progress payload was decoded from.
type SnapshotKind int

const (
	KindUnrecognized SnapshotKind = iota
	KindNested
	KindFlat
)

func (k SnapshotKind) String() string {
	switch k {
	case KindNested:
		return "nested"
	case KindFlat:
		return "flat"
	default:
		return "unrecognized"
	}
}

// Snapshot is a point-in-time record of a student's completed lessons for one course.
// Modules is set for KindNested, LessonIDs for KindFlat; an unrecognized snapshot
// carries nothing.
type Snapshot struct {
	Kind      SnapshotKind
	Modules   []SnapshotModule
	LessonIDs []string
}

// SnapshotModule is one module of a nested snapshot.
type SnapshotModule struct {
	ID      string           `json:"id"`
	Lessons []SnapshotLesson `json:"lessons"`
}

// SnapshotLesson carries the completed flag of a single lesson.
type SnapshotLesson struct {
	ID        string `json:"id"`
	Completed bool   `json:"completed"`
}

// NestedSnapshot builds a KindNested snapshot.
func NestedSnapshot(modules ...SnapshotModule) Snapshot {
	return Snapshot{Kind: KindNested, Modules: modules}
}

// FlatSnapshot builds a KindFlat snapshot of already-completed lesson IDs.
func FlatSnapshot(ids ...string) Snapshot {
	return Snapshot{Kind: KindFlat, LessonIDs: ids}
}

// SnapshotFromCourse builds a nested snapshot mirroring the course layout, flagging
// each lesson with isCompleted.
func SnapshotFromCourse(course catalog.Course, isCompleted func(lessonID string) bool) Snapshot {
	modules := make([]SnapshotModule, 0, len(course.Modules))
	for _, m := range course.Modules {
		sm := SnapshotModule{ID: m.ID, Lessons: make([]SnapshotLesson, 0, len(m.Lessons))}
		for _, l := range m.Lessons {
			id := catalog.CanonicalID(l.ID)
			sm.Lessons = append(sm.Lessons, SnapshotLesson{ID: id, Completed: isCompleted(id)})
		}
		modules = append(modules, sm)
	}
	return NestedSnapshot(modules...)
}

// Totals returns the lesson count and completed-lesson count of a nested snapshot.
// Other kinds report zero for both.
func (s Snapshot) Totals() (total, completed int) {
	if s.Kind != KindNested {
		return 0, 0
	}
	for _, m := range s.Modules {
		for _, l := range m.Lessons {
			total++
			if l.Completed {
				completed++
			}
		}
	}
	return total, completed
}

// MarshalJSON writes the snapshot back in the wire shape it was decoded from.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case KindNested:
		modules := s.Modules
		if modules == nil {
			modules = []SnapshotModule{}
		}
		return json.Marshal(struct {
			Modules []SnapshotModule `json:"modules"`
		}{modules})
	case KindFlat:
		ids := s.LessonIDs
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any payload; unknown shapes become KindUnrecognized.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	*s = DecodeSnapshot(data)
	return nil
}

const nestedSchemaJSON = `{
  "type": "object",
  "required": ["modules"],
  "properties": {
    "modules": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": ["string", "number"]},
          "lessons": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "required": ["id"],
              "properties": {
                "id": {"type": ["string", "number"]},
                "completed": {"type": "boolean"}
              }
            }
          }
        }
      }
    }
  }
}`

const flatSchemaJSON = `{
  "type": "array",
  "items": {"type": ["string", "number"]}
}`

var (
	nestedSchema = mustSchema(nestedSchemaJSON)
	flatSchema   = mustSchema(flatSchemaJSON)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile snapshot schema: %v", err))
	}
	return s
}

// DecodeSnapshot classifies a raw progress payload. It never fails: payloads that
// match neither the nested nor the flat shape decode as KindUnrecognized.
func DecodeSnapshot(raw []byte) Snapshot {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return Snapshot{}
	}

	doc := gojsonschema.NewBytesLoader(raw)

	if matches(nestedSchema, doc) {
		var wire struct {
			Modules []struct {
				ID      wireID `json:"id"`
				Lessons []struct {
					ID        wireID `json:"id"`
					Completed bool   `json:"completed"`
				} `json:"lessons"`
			} `json:"modules"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			slog.Warn("decoding nested progress snapshot", "error", err)
			return Snapshot{}
		}
		modules := make([]SnapshotModule, 0, len(wire.Modules))
		for _, m := range wire.Modules {
			sm := SnapshotModule{ID: string(m.ID), Lessons: make([]SnapshotLesson, 0, len(m.Lessons))}
			for _, l := range m.Lessons {
				sm.Lessons = append(sm.Lessons, SnapshotLesson{ID: string(l.ID), Completed: l.Completed})
			}
			modules = append(modules, sm)
		}
		return NestedSnapshot(modules...)
	}

	if matches(flatSchema, doc) {
		var ids []wireID
		if err := json.Unmarshal(raw, &ids); err != nil {
			slog.Warn("decoding flat progress snapshot", "error", err)
			return Snapshot{}
		}
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, string(id))
		}
		return FlatSnapshot(out...)
	}

	return Snapshot{}
}

func matches(schema *gojsonschema.Schema, doc gojsonschema.JSONLoader) bool {
	result, err := schema.Validate(doc)
	if err != nil {
		return false
	}
	return result.Valid()
}

// wireID accepts lesson and module identifiers sent as JSON strings or numbers.
type wireID string

func (id *wireID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = wireID(catalog.CanonicalID(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = wireID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = wireID(n.String())
	return nil
}
