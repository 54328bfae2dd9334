package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/server"
)

type courseMap map[string]catalog.Course

func (m courseMap) GetCourse(id string) (catalog.Course, bool) {
	c, ok := m[id]
	return c, ok
}

var algebra = catalog.Course{
	ID:       "algebra-f1",
	Name:     "Algebra Form 1",
	Revision: 1,
	Modules: []catalog.Module{
		{ID: "basics", Order: 1, Lessons: []catalog.Lesson{
			{ID: "variables", Title: "Variables", Order: 1},
			{ID: "expressions", Title: "Expressions", Order: 2},
		}},
		{ID: "solving", Order: 2, Lessons: []catalog.Lesson{
			{ID: "equations", Title: "Equations", Order: 1},
		}},
	},
}

// flakyAPI wraps a memory backend and fails on demand.
type flakyAPI struct {
	*progress.MemoryBackend
	failFetch    bool
	failComplete bool
}

func (a *flakyAPI) FetchProgress(ctx context.Context, studentID, courseID string) (progress.Snapshot, error) {
	if a.failFetch {
		return progress.Snapshot{}, errors.New("upstream down")
	}
	return a.MemoryBackend.FetchProgress(ctx, studentID, courseID)
}

func (a *flakyAPI) CompleteLesson(ctx context.Context, studentID, lessonID string) (progress.Receipt, error) {
	if a.failComplete {
		return progress.Receipt{}, errors.New("upstream down")
	}
	return a.MemoryBackend.CompleteLesson(ctx, studentID, lessonID)
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("connection refused") }

func newTestMux(t *testing.T, api progress.API, checks map[string]server.Checker) *http.ServeMux {
	t.Helper()
	courses := courseMap{algebra.ID: algebra}
	if api == nil {
		api = progress.NewMemoryBackend(courses)
	}
	reg := progress.NewRegistry(api, nil, progress.Hooks{})
	mux := http.NewServeMux()
	server.New(server.Config{Registry: reg, Courses: courses, Checks: checks}).Routes(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, student string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if student != "" {
		req.Header.Set(server.StudentHeader, student)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

type progressBody struct {
	CourseID           string                  `json:"course_id"`
	StudentID          string                  `json:"student_id"`
	Percent            int                     `json:"percent"`
	CompletedLessonIDs []string                `json:"completed_lesson_ids"`
	Lessons            []progress.LessonStatus `json:"lessons"`
	Stale              bool                    `json:"stale"`
}

func decodeProgress(t *testing.T, rec *httptest.ResponseRecorder) progressBody {
	t.Helper()
	var body progressBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestProgress_RequiresStudent(t *testing.T) {
	mux := newTestMux(t, nil, nil)

	rec := do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/progress", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestProgress_UnknownCourse(t *testing.T) {
	mux := newTestMux(t, nil, nil)

	rec := do(t, mux, http.MethodGet, "/v1/courses/geometry/progress", "stu-1")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProgress_Fresh(t *testing.T) {
	mux := newTestMux(t, nil, nil)

	rec := do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/progress", "stu-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeProgress(t, rec)
	if body.Percent != 0 {
		t.Errorf("percent = %d, want 0", body.Percent)
	}
	if len(body.CompletedLessonIDs) != 0 {
		t.Errorf("completed = %v, want none", body.CompletedLessonIDs)
	}
	if len(body.Lessons) != 3 {
		t.Fatalf("lessons = %d, want 3", len(body.Lessons))
	}
	if !body.Lessons[0].Accessible || body.Lessons[1].Accessible {
		t.Errorf("only the first lesson should be open: %+v", body.Lessons)
	}
}

func TestCompleteThenProgress(t *testing.T) {
	mux := newTestMux(t, nil, nil)

	rec := do(t, mux, http.MethodPost, "/v1/courses/algebra-f1/lessons/variables/complete", "stu-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	var receipt progress.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.LessonID != "variables" {
		t.Errorf("receipt lesson = %q, want variables", receipt.LessonID)
	}

	body := decodeProgress(t, do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/progress", "stu-1"))
	if body.Percent != 33 {
		t.Errorf("percent = %d, want 33", body.Percent)
	}
	if !body.Lessons[1].Accessible {
		t.Error("expressions should be open after variables")
	}

	// Another student is unaffected.
	other := decodeProgress(t, do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/progress", "stu-2"))
	if other.Percent != 0 {
		t.Errorf("stu-2 percent = %d, want 0", other.Percent)
	}
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		student    string
		api        progress.API
		wantStatus int
	}{
		{"no student", "/v1/courses/algebra-f1/lessons/variables/complete", "", nil, http.StatusUnauthorized},
		{"unknown lesson", "/v1/courses/algebra-f1/lessons/fractions/complete", "stu-1", nil, http.StatusNotFound},
		{"locked lesson", "/v1/courses/algebra-f1/lessons/equations/complete", "stu-1", nil, http.StatusForbidden},
		{"upstream failure", "/v1/courses/algebra-f1/lessons/variables/complete", "stu-1",
			&flakyAPI{MemoryBackend: progress.NewMemoryBackend(courseMap{algebra.ID: algebra}), failComplete: true},
			http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t, tt.api, nil)
			rec := do(t, mux, http.MethodPost, tt.path, tt.student)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestComplete_UpstreamFailureLeavesStateUnchanged(t *testing.T) {
	api := &flakyAPI{MemoryBackend: progress.NewMemoryBackend(courseMap{algebra.ID: algebra}), failComplete: true}
	mux := newTestMux(t, api, nil)

	do(t, mux, http.MethodPost, "/v1/courses/algebra-f1/lessons/variables/complete", "stu-1")

	body := decodeProgress(t, do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/progress", "stu-1"))
	if body.Percent != 0 || len(body.CompletedLessonIDs) != 0 {
		t.Errorf("state changed after failed completion: %+v", body)
	}
}

func TestProgress_StaleWhenFetchFails(t *testing.T) {
	api := &flakyAPI{MemoryBackend: progress.NewMemoryBackend(courseMap{algebra.ID: algebra})}
	mux := newTestMux(t, api, nil)

	do(t, mux, http.MethodPost, "/v1/courses/algebra-f1/lessons/variables/complete", "stu-1")
	api.failFetch = true

	rec := do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/progress", "stu-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeProgress(t, rec)
	if !body.Stale {
		t.Error("stale = false, want true")
	}
	if body.Percent != 33 {
		t.Errorf("percent = %d, want last known 33", body.Percent)
	}
}

func TestAccess(t *testing.T) {
	mux := newTestMux(t, nil, nil)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"first lesson", "/v1/courses/algebra-f1/modules/basics/lessons/variables/access", true},
		{"second lesson locked", "/v1/courses/algebra-f1/modules/basics/lessons/expressions/access", false},
		{"wrong module", "/v1/courses/algebra-f1/modules/solving/lessons/variables/access", false},
		{"unknown lesson", "/v1/courses/algebra-f1/modules/basics/lessons/fractions/access", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, http.MethodGet, tt.path, "stu-1")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var body struct {
				Accessible bool `json:"accessible"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Accessible != tt.want {
				t.Errorf("accessible = %v, want %v", body.Accessible, tt.want)
			}
		})
	}
}

func TestReport(t *testing.T) {
	mux := newTestMux(t, nil, nil)

	rec := do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/progress/report.xlsx", "stu-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q, want spreadsheet", ct)
	}
	// xlsx files are zip archives.
	if !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Error("body is not a zip archive")
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]server.Checker
		wantStatus int
	}{
		{"no checks", nil, http.StatusOK},
		{"failing check", map[string]server.Checker{"database": failingCheck{}}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(t, nil, tt.checks)
			rec := do(t, mux, http.MethodGet, "/readyz", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestMux(t, nil, nil)

	rec := do(t, mux, http.MethodGet, "/v1/courses/algebra-f1/lessons/variables/complete", "stu-1")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestComplete_UpstreamRejectsServiceToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer upstream.Close()

	api := progress.NewHTTPClient(upstream.URL, progress.WithBearerToken("expired"))
	mux := newTestMux(t, api, nil)

	rec := do(t, mux, http.MethodPost, "/v1/courses/algebra-f1/lessons/variables/complete", "stu-1")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502, body = %s", rec.Code, rec.Body.String())
	}
}
