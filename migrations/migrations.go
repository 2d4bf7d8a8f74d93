// Package migrations embeds the schema and runs it against PostgreSQL.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"
)

//go:embed *.sql seed/*.sql
var files embed.FS

// Pattern: 001_name.up.sql / 001_name.down.sql
var filePattern = regexp.MustCompile(`^(\d{3})_(.+)\.(up|down)\.sql$`)

// Migration is one versioned schema change
type Migration struct {
	Version   int
	Name      string
	Up        string
	Down      string
	AppliedAt *time.Time
}

// Applied reports whether the migration has been recorded
func (m Migration) Applied() bool {
	return m.AppliedAt != nil
}

// Load returns the embedded migrations ordered by version
func Load() ([]Migration, error) {
	return load(files, ".")
}

func load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := map[int]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := filePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, _ := strconv.Atoi(matches[1])
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = m
		} else if m.Name != matches[2] {
			return nil, fmt.Errorf("migration %03d has conflicting names %q and %q", version, m.Name, matches[2])
		}
		if matches[3] == "up" {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %03d_%s has no up file", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Seeds returns the demo data scripts in file order
func Seeds() ([]string, error) {
	names, err := fs.Glob(files, "seed/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	seeds := make([]string, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		seeds = append(seeds, string(content))
	}
	return seeds, nil
}

// Runner applies migrations and records them in schema_migrations
type Runner struct {
	db         *sql.DB
	migrations []Migration
}

// NewRunner creates a runner over the given migrations
func NewRunner(db *sql.DB, migrations []Migration) *Runner {
	return &Runner{db: db, migrations: migrations}
}

// Init creates the schema_migrations tracking table
func (r *Runner) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// Status returns every known migration with its applied time, if any
func (r *Runner) Status(ctx context.Context) ([]Migration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]time.Time{}
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	status := make([]Migration, len(r.migrations))
	for i, m := range r.migrations {
		if at, ok := applied[m.Version]; ok {
			m.AppliedAt = &at
		}
		status[i] = m
	}
	return status, nil
}

// Up applies every pending migration, each in its own transaction, and
// returns the ones applied
func (r *Runner) Up(ctx context.Context) ([]Migration, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	var done []Migration
	for _, m := range status {
		if m.Applied() {
			continue
		}
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("failed to apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		done = append(done, m)
	}
	return done, nil
}

// Down rolls back the most recently applied migration. It returns nil when
// nothing is applied.
func (r *Runner) Down(ctx context.Context) (*Migration, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(status) - 1; i >= 0; i-- {
		m := status[i]
		if !m.Applied() {
			continue
		}
		if m.Down == "" {
			return nil, fmt.Errorf("migration %03d_%s cannot be rolled back", m.Version, m.Name)
		}
		err := r.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to roll back migration %03d_%s: %w", m.Version, m.Name, err)
		}
		return &m, nil
	}
	return nil, nil
}

func (r *Runner) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
