// Package schema defines the recorded step and test file types.
package schema

import (
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// SelectType tells how a step's Selector is interpreted.
type SelectType string

const (
	SelectBySelector SelectType = "selector"
	SelectByContent  SelectType = "content"
	SelectNone       SelectType = "none"
)

// Valid reports whether t is one of the known select types. The empty value
// is accepted and treated as SelectBySelector.
func (t SelectType) Valid() bool {
	switch t {
	case "", SelectBySelector, SelectByContent, SelectNone:
		return true
	}
	return false
}

// Step is one recorded instruction.
//
// Selector holds a CSS selector, a text fragment (SelectByContent), or, for
// location/goto/xhr steps, the expected path or URL.
type Step struct {
	ID         string            `yaml:"id"                json:"id"`
	Action     string            `yaml:"action"            json:"action"`
	SelectType SelectType        `yaml:"selectType"        json:"selectType"`
	Selector   string            `yaml:"selector"          json:"selector"`
	Args       map[string]string `yaml:"args"              json:"args"`
	Comment    string            `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// Arg returns the named argument, or def when it is unset or empty.
func (s Step) Arg(key, def string) string {
	if v, ok := s.Args[key]; ok && v != "" {
		return v
	}
	return def
}

// ByContent reports whether the step matches elements by text content.
func (s Step) ByContent() bool {
	return s.SelectType == SelectByContent
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	if s.Args != nil {
		out.Args = make(map[string]string, len(s.Args))
		for k, v := range s.Args {
			out.Args[k] = v
		}
	}
	return out
}

// NewStepID returns a fresh opaque step identifier.
func NewStepID() string {
	return uuid.NewString()
}

// ---------------------------------------------------------------------------
// TestFile
// ---------------------------------------------------------------------------

// TestFile is an ordered, named sequence of steps representing one test case.
type TestFile struct {
	Name                       string `yaml:"name"                       json:"name"`
	Description                string `yaml:"description"                json:"description"`
	ChecksErrorsAfterEveryStep bool   `yaml:"checksErrorsAfterEveryStep" json:"checksErrorsAfterEveryStep"`
	Steps                      []Step `yaml:"steps"                      json:"steps"`
}

// New returns an empty test file.
func New(name, description string) *TestFile {
	return &TestFile{Name: name, Description: description, Steps: []Step{}}
}

// Len returns the number of steps.
func (f *TestFile) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Steps)
}

// IndexOf returns the position of the step with the given id, or -1.
func (f *TestFile) IndexOf(id string) int {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Step returns a copy of the step with the given id.
func (f *TestFile) Step(id string) (Step, bool) {
	i := f.IndexOf(id)
	if i < 0 {
		return Step{}, false
	}
	return f.Steps[i].Clone(), true
}

// Append adds a step to the end of the file. A step without an id is
// assigned one. Returns the index of the new step.
func (f *TestFile) Append(step Step) (int, error) {
	if step.ID == "" {
		step.ID = NewStepID()
	}
	if f.IndexOf(step.ID) >= 0 {
		return -1, fmt.Errorf("step %s already exists", step.ID)
	}
	f.Steps = append(f.Steps, step.Clone())
	return len(f.Steps) - 1, nil
}

// Update replaces the step carrying the same id.
func (f *TestFile) Update(step Step) error {
	i := f.IndexOf(step.ID)
	if i < 0 {
		return fmt.Errorf("step %s not found", step.ID)
	}
	f.Steps[i] = step.Clone()
	return nil
}

// Delete removes the step with the given id.
func (f *TestFile) Delete(id string) error {
	i := f.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("step %s not found", id)
	}
	f.Steps = append(f.Steps[:i], f.Steps[i+1:]...)
	return nil
}

// MoveUp swaps the step with its predecessor. Moving the first step is a no-op.
func (f *TestFile) MoveUp(id string) error {
	i := f.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("step %s not found", id)
	}
	if i > 0 {
		f.Steps[i-1], f.Steps[i] = f.Steps[i], f.Steps[i-1]
	}
	return nil
}

// MoveDown swaps the step with its successor. Moving the last step is a no-op.
func (f *TestFile) MoveDown(id string) error {
	i := f.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("step %s not found", id)
	}
	if i < len(f.Steps)-1 {
		f.Steps[i+1], f.Steps[i] = f.Steps[i], f.Steps[i+1]
	}
	return nil
}

// RegenerateIDs assigns a fresh id to every step. Used on import so steps
// never collide with those of another file already open in the session.
func (f *TestFile) RegenerateIDs() {
	for i := range f.Steps {
		f.Steps[i].ID = NewStepID()
	}
}

// Clone returns a deep copy of the file.
func (f *TestFile) Clone() *TestFile {
	if f == nil {
		return nil
	}
	out := *f
	out.Steps = make([]Step, len(f.Steps))
	for i, s := range f.Steps {
		out.Steps[i] = s.Clone()
	}
	return &out
}
