package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and caches course catalogs from the filesystem.
type Loader struct {
	rootDir string
	courses map[string]Course
	mu      sync.RWMutex
}

// NewLoader creates a new catalog loader and loads all courses under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]Course),
	}

	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// GetCourse returns a course by ID.
func (l *Loader) GetCourse(id string) (Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[CanonicalID(id)]
	return c, ok
}

// AllCourses returns all loaded courses.
func (l *Loader) AllCourses() []Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	return courses
}

// Reload re-reads every course file. Courses that are still present get a new
// Revision so engines holding the previous catalog re-normalize it.
func (l *Loader) Reload() error {
	loaded := make(map[string]Course)
	err := filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".yaml") && !strings.HasSuffix(path, ".yml") {
			return nil
		}
		course, ok, err := readCourse(path)
		if err != nil {
			return err
		}
		if ok {
			loaded[course.ID] = course
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	l.mu.Lock()
	for id, c := range loaded {
		c.Revision = l.courses[id].Revision + 1
		loaded[id] = c
	}
	l.courses = loaded
	l.mu.Unlock()

	slog.Info("catalog loaded", "courses", len(loaded))
	return nil
}

func readCourse(path string) (Course, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Course{}, false, err
	}

	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return Course{}, false, nil
	}

	course.ID = CanonicalID(course.ID)
	if course.ID == "" {
		return Course{}, false, nil // Not a course file
	}
	return course, true, nil
}
