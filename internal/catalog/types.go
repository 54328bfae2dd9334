package catalog

// Course is a course catalog loaded from YAML.
type Course struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Modules []Module `yaml:"modules" json:"modules"`

	// Revision increases every time the loader re-reads the course.
	Revision int `yaml:"-" json:"revision"`
}

// Module is a group of lessons with a position among its sibling modules.
type Module struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name,omitempty"`
	Order   int      `yaml:"order" json:"order"`
	Lessons []Lesson `yaml:"lessons" json:"lessons,omitempty"`
}

// Lesson is the smallest unit of course content.
type Lesson struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title,omitempty"`
	Order int    `yaml:"order" json:"order"`
}

// Module returns the module with the given ID.
func (c *Course) Module(id string) (Module, bool) {
	if c == nil {
		return Module{}, false
	}
	id = CanonicalID(id)
	for _, m := range c.Modules {
		if CanonicalID(m.ID) == id {
			return m, true
		}
	}
	return Module{}, false
}

// Lesson returns a lesson by ID, scoped to the given module.
func (c *Course) Lesson(moduleID, lessonID string) (Lesson, bool) {
	m, ok := c.Module(moduleID)
	if !ok {
		return Lesson{}, false
	}
	lessonID = CanonicalID(lessonID)
	for _, l := range m.Lessons {
		if CanonicalID(l.ID) == lessonID {
			return l, true
		}
	}
	return Lesson{}, false
}

// ModuleOf returns the module that owns lessonID.
func (c *Course) ModuleOf(lessonID string) (Module, bool) {
	if c == nil {
		return Module{}, false
	}
	lessonID = CanonicalID(lessonID)
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			if CanonicalID(l.ID) == lessonID {
				return m, true
			}
		}
	}
	return Module{}, false
}

// LessonCount returns the number of lessons across all modules.
func (c *Course) LessonCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}
