package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// SQLiteStore implements Store using SQLite. The body column holds the
// template's YAML.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A shared in-memory database lives only as long as one connection.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			steps INTEGER NOT NULL DEFAULT 0,
			body TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts a template.
func (s *SQLiteStore) Save(ctx context.Context, tf *schema.TestFile) error {
	if err := ValidateName(tf.Name); err != nil {
		return err
	}
	body, err := schema.Marshal(tf)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (name, description, steps, body, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET description = excluded.description, steps = excluded.steps,
		   body = excluded.body, updated_at = excluded.updated_at`,
		tf.Name, tf.Description, tf.Len(), string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// Load retrieves a template by name.
func (s *SQLiteStore) Load(ctx context.Context, name string) (*schema.TestFile, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM templates WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	tf, err := schema.Load(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", name, err)
	}
	return tf, nil
}

// List returns template summaries sorted by name.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, steps, updated_at FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Name, &sum.Description, &sum.Steps, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list templates: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a template.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
