package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

const fsExt = ".yaml"

// FSStore keeps one YAML file per template in a directory.
type FSStore struct {
	dir string
}

// NewFSStore creates the directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the store directory.
func (s *FSStore) Dir() string { return s.dir }

func (s *FSStore) path(name string) string {
	return filepath.Join(s.dir, name+fsExt)
}

// Save writes the template, replacing any previous version.
func (s *FSStore) Save(ctx context.Context, tf *schema.TestFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(tf.Name); err != nil {
		return err
	}
	data, err := schema.Marshal(tf)
	if err != nil {
		return err
	}
	// Write then rename so readers never see a partial file.
	tmp, err := os.CreateTemp(s.dir, ".save-*")
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save template: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save template: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(tf.Name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// Load reads a template by name.
func (s *FSStore) Load(ctx context.Context, name string) (*schema.TestFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	tf, err := schema.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", name, err)
	}
	return tf, nil
}

// List returns every readable template, sorted by name. Files that fail to
// decode are skipped.
func (s *FSStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	var out []Summary
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), fsExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		tf, err := s.Load(ctx, strings.TrimSuffix(e.Name(), fsExt))
		if err != nil {
			continue
		}
		out = append(out, summarize(tf, info.ModTime()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes a template.
func (s *FSStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FSStore) Close() error { return nil }
