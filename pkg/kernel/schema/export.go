package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateTestFileJSONSchema produces a JSON Schema Draft 2020-12 document
// from the TestFile Go types.
func GenerateTestFileJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&TestFile{})
	s.ID = "https://github.com/ormasoftchile/stepwise/schemas/testfile-v0.json"
	s.Title = "Recorded Test File"
	s.Description = "Schema for stepwise test files: an ordered list of recorded steps (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal test file schema: %w", err)
	}
	return data, nil
}
