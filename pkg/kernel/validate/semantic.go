package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

const schemaResource = "testfile-v0.json"

var (
	compileOnce sync.Once
	compiled    *sjsonschema.Schema
	compileErr  error
)

// testFileSchema compiles the exported test file schema once per process.
func testFileSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := schema.GenerateTestFileJSONSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(schemaResource, doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaResource)
	})
	return compiled, compileErr
}

// validateSemantic validates the test file against its JSON Schema.
func validateSemantic(tf *schema.TestFile) []*ValidationError {
	sch, err := testFileSchema()
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "compile schema: %v", err)}
	}

	// Steps without arguments are stored as an empty object.
	norm := tf.Clone()
	if norm.Steps == nil {
		norm.Steps = []schema.Step{}
	}
	for i := range norm.Steps {
		if norm.Steps[i].Args == nil {
			norm.Steps[i].Args = map[string]string{}
		}
	}

	data, err := json.Marshal(norm)
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "marshal for schema validation: %v", err)}
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{errorf("semantic", "", "unmarshal document: %v", err)}
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []*ValidationError{errorf("semantic", "", "%s", err)}
		}
		var errs []*ValidationError
		for _, cause := range flattenValidationErrors(ve) {
			errs = append(errs, errorf("semantic", instancePath(cause.InstanceLocation), "%v", cause.ErrorKind))
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// instancePath renders ["steps","0","args"] as steps[0].args.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, tok := range loc {
		if isIndex(tok) {
			b.WriteString("[" + tok + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}
