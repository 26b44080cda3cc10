package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// step is one schema change, applied at most once per database
type step struct {
	version int
	name    string
	script  string
}

var steps = []step{
	{version: 1, name: "entries and local_txns", script: schemaSQL},
}

// Migrator brings a device database up to the latest schema version
type Migrator struct {
	db    *sql.DB
	steps []step
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, steps: steps}
}

// Migrate applies every step newer than the recorded version, each in its own
// transaction together with its version row.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := m.Version(ctx)
	if err != nil {
		return err
	}
	for _, s := range m.steps {
		if s.version <= current {
			continue
		}
		if err := m.apply(ctx, s); err != nil {
			return fmt.Errorf("migration %d (%s): %w", s.version, s.name, err)
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, s step) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range statements(s.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)", s.version, s.name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Version returns the highest applied version, 0 for a fresh database.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := m.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// statements drops "--" comment lines and splits the rest on ';'
func statements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
