// Package server exposes lesson progress and access checks over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/p-n-ai/pai-progress/internal/catalog"
	"github.com/p-n-ai/pai-progress/internal/platform/metrics"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/report"
)

// StudentHeader carries the caller's student identity.
const StudentHeader = "X-Student-ID"

// Checker is a readiness check (database, cache).
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds dependencies for the HTTP handlers.
type Config struct {
	Registry *progress.Registry
	Courses  progress.CourseSource
	Checks   map[string]Checker
}

// Server serves the progress API.
type Server struct {
	registry *progress.Registry
	courses  progress.CourseSource
	checks   map[string]Checker
}

// New creates the progress API server.
func New(cfg Config) *Server {
	return &Server{
		registry: cfg.Registry,
		courses:  cfg.Courses,
		checks:   cfg.Checks,
	}
}

// Routes registers the API, health and metrics endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /v1/courses/{courseID}/progress", instrument("progress", s.handleProgress))
	mux.Handle("GET /v1/courses/{courseID}/progress/report.xlsx", instrument("report", s.handleReport))
	mux.Handle("GET /v1/courses/{courseID}/modules/{moduleID}/lessons/{lessonID}/access", instrument("access", s.handleAccess))
	mux.Handle("POST /v1/courses/{courseID}/lessons/{lessonID}/complete", instrument("complete", s.handleComplete))
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "check": name})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type progressResponse struct {
	CourseID           string                  `json:"course_id"`
	StudentID          string                  `json:"student_id"`
	Percent            int                     `json:"percent"`
	CompletedLessonIDs []string                `json:"completed_lesson_ids"`
	Lessons            []progress.LessonStatus `json:"lessons"`
	Stale              bool                    `json:"stale,omitempty"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	eng, _, stale, ok := s.engine(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, progressResponse{
		CourseID:           eng.CourseID(),
		StudentID:          eng.StudentID(),
		Percent:            eng.ProgressPercent(),
		CompletedLessonIDs: eng.CompletedLessonIDs(),
		Lessons:            eng.Lessons(),
		Stale:              stale,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	eng, course, _, ok := s.engine(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	err := report.WriteXLSX(&buf, report.Progress{
		StudentID:  eng.StudentID(),
		CourseID:   course.ID,
		CourseName: course.Name,
		Percent:    eng.ProgressPercent(),
		Lessons:    eng.Lessons(),
	})
	if err != nil {
		slog.Error("failed to render progress report", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+course.ID+`-progress.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	eng, _, _, ok := s.engine(w, r)
	if !ok {
		return
	}

	allowed := eng.CanAccessLesson(r.PathValue("moduleID"), r.PathValue("lessonID"))
	metrics.ObserveAccess(allowed)

	writeJSON(w, http.StatusOK, map[string]any{
		"lesson_id":  catalog.CanonicalID(r.PathValue("lessonID")),
		"accessible": allowed,
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	eng, course, _, ok := s.engine(w, r)
	if !ok {
		return
	}

	lessonID := r.PathValue("lessonID")
	module, found := course.ModuleOf(lessonID)
	if !found {
		writeError(w, http.StatusNotFound, "unknown lesson")
		return
	}
	if !eng.CanAccessLesson(module.ID, lessonID) {
		writeError(w, http.StatusForbidden, "lesson is locked")
		return
	}

	receipt, err := eng.CompleteLesson(r.Context(), lessonID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, receipt)
	case errors.Is(err, progress.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, progress.ErrUnknownLesson):
		writeError(w, http.StatusNotFound, "unknown lesson")
	case errors.Is(err, progress.ErrUpstreamUnauthorized):
		slog.Error("progress service rejected service credentials", "error", err)
		writeError(w, http.StatusBadGateway, "failed to record completion")
	default:
		writeError(w, http.StatusBadGateway, "failed to record completion")
	}
}

// engine resolves the caller, the course and the caller's engine, refreshing the
// engine's snapshot. It writes the error response itself and returns ok=false when
// the request cannot proceed. stale reports that the refresh failed and the answer
// comes from previously loaded state.
func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*progress.Engine, catalog.Course, bool, bool) {
	studentID := catalog.CanonicalID(r.Header.Get(StudentHeader))
	if studentID == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return nil, catalog.Course{}, false, false
	}

	course, found := s.courses.GetCourse(r.PathValue("courseID"))
	if !found {
		writeError(w, http.StatusNotFound, "unknown course")
		return nil, catalog.Course{}, false, false
	}

	eng, _ := s.registry.Engine(studentID, course.ID)
	eng.SetCourse(course)

	stale := false
	if err := eng.Refresh(r.Context()); err != nil {
		stale = true
	}
	return eng, course, stale, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
