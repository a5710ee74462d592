// Package validate implements the 3-phase test file validation pipeline:
// structural → semantic → domain.
package validate

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/codec"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "error",
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: "warning",
	}
}

// ValidateFile runs the full pipeline on a test file. The file may be a
// YAML or JSON test file or an exported script.
func ValidateFile(path string, registry *actions.Registry) (*schema.TestFile, []*ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to read: %s", err)}
	}
	return ValidateBytes(path, data, registry)
}

// ValidateBytes is ValidateFile for content already in memory. name selects
// the decoder by extension.
func ValidateBytes(name string, data []byte, registry *actions.Registry) (*schema.TestFile, []*ValidationError) {
	// Phase 1: Structural (strict decode)
	tf, err := codec.DecodeFile(name, data)
	if err != nil {
		return nil, []*ValidationError{errorf("structural", "", "failed to load: %s", err)}
	}
	return tf, ValidateTestFile(tf, registry)
}

// ValidateTestFile runs phases 2+3 on an already-loaded test file. A nil
// registry checks against the builtin actions.
func ValidateTestFile(tf *schema.TestFile, registry *actions.Registry) []*ValidationError {
	if registry == nil {
		registry = actions.NewBuiltinRegistry(actions.DefaultConfig())
	}
	errs := validateSemantic(tf)
	// Domain rules assume a schema-conformant document.
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateDomain(tf, registry)...)
}

// HasErrors reports whether errs holds at least one error-severity entry.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}
