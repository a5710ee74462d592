package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a test file. Files ending in
// .json are decoded as JSON, everything else as YAML.
func LoadFile(path string) (*TestFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open test file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return Load(f)
}

// Load reads a YAML test file from a reader.
// Unknown fields are rejected.
func Load(r io.Reader) (*TestFile, error) {
	var tf TestFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	normalize(&tf)
	return &tf, nil
}

// LoadJSON reads a JSON test file from a reader.
func LoadJSON(r io.Reader) (*TestFile, error) {
	var tf TestFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	normalize(&tf)
	return &tf, nil
}

// Marshal encodes a test file as YAML.
func Marshal(tf *TestFile) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tf); err != nil {
		return nil, fmt.Errorf("encode test file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode test file: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveFile writes a test file as YAML.
func SaveFile(path string, tf *TestFile) error {
	data, err := Marshal(tf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write test file: %w", err)
	}
	return nil
}

// normalize fills defaults left implicit by hand-written files.
func normalize(tf *TestFile) {
	if tf.Steps == nil {
		tf.Steps = []Step{}
	}
	for i := range tf.Steps {
		if tf.Steps[i].SelectType == "" {
			tf.Steps[i].SelectType = SelectBySelector
		}
	}
}
