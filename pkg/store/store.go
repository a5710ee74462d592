// Package store persists recorded test files ("templates") by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// ErrNotFound is returned when no template has the requested name.
var ErrNotFound = errors.New("template not found")

// Summary describes a stored template without its steps.
type Summary struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       int       `json:"steps"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store defines template persistence. Templates are keyed by TestFile.Name;
// saving an existing name replaces it.
type Store interface {
	Save(ctx context.Context, tf *schema.TestFile) error
	Load(ctx context.Context, name string) (*schema.TestFile, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, name string) error

	// Lifecycle
	Close() error
}

// Open returns a store for driver: "fs" (dsn is a directory) or "sqlite"
// (dsn is a go-sqlite3 data source).
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "fs":
		return NewFSStore(dsn)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// ValidateName rejects names that cannot key a template.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("template name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid template name %q", name)
	}
	return nil
}

func summarize(tf *schema.TestFile, updated time.Time) Summary {
	return Summary{
		Name:        tf.Name,
		Description: tf.Description,
		Steps:       tf.Len(),
		UpdatedAt:   updated,
	}
}
