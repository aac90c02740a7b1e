package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

// migrationFile matches "<YYYYMMDD>_<HHMMSS>_<name>.<up|down>.sql".
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

// ledgerTable records which migrations have been applied.
const ledgerTable = "schema_migrations"

var (
	registryMu sync.RWMutex
	registry   fs.FS
)

// RegisterMigrations sets the migration files Migrate applies. The
// migrations package calls it from init with its embedded files.
func RegisterMigrations(fsys fs.FS) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = fsys
}

func registered() ([]Migration, error) {
	registryMu.RLock()
	fsys := registry
	registryMu.RUnlock()
	if fsys == nil {
		return nil, nil
	}
	return LoadMigrations(fsys)
}

// Migration is one versioned schema change. SQL must be portable between
// SQLite and Postgres.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// MigrationState is a known migration and whether it has been applied.
type MigrationState struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

// ErrNothingToRevert is returned by MigrateDown when no migration is applied.
var ErrNothingToRevert = errors.New("no applied migration to revert")

// LoadMigrations reads migration files from the root of fsys, ordered by
// version. Files that are not .sql are ignored; a .sql file with a
// malformed name or a down file without its up file is an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		parts := migrationFile.FindStringSubmatch(name)
		if parts == nil {
			return nil, fmt.Errorf("migration %q: name must be YYYYMMDD_HHMMSS_name.(up|down).sql", name)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		version, label, direction := parts[1], parts[2], parts[3]
		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: label}
			byVersion[version] = m
		}
		if m.Name != label {
			return nil, fmt.Errorf("migration %s: up and down files disagree on name (%q, %q)", version, m.Name, label)
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	set := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s_%s has no up file", m.Version, m.Name)
		}
		set = append(set, *m)
	}
	slices.SortFunc(set, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return set, nil
}

// Migrate applies every registered migration not yet in the ledger, oldest
// first. Each migration commits in its own transaction together with its
// ledger row, so a failure leaves earlier migrations applied and the
// failing one absent.
func (db *DB) Migrate(ctx context.Context) error {
	set, err := registered()
	if err != nil {
		return err
	}
	return db.migrateUp(ctx, set)
}

// MigrateDown reverts the most recently applied migration and returns it.
func (db *DB) MigrateDown(ctx context.Context) (*Migration, error) {
	set, err := registered()
	if err != nil {
		return nil, err
	}
	return db.migrateDown(ctx, set)
}

// MigrationStatus lists every registered migration with its ledger state.
// Versions in the ledger that no file describes are reported with only
// Version set.
func (db *DB) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	set, err := registered()
	if err != nil {
		return nil, err
	}
	return db.migrationStatus(ctx, set)
}

func (db *DB) migrateUp(ctx context.Context, set []Migration) error {
	if len(set) == 0 {
		return nil
	}
	applied, err := db.ledger(ctx)
	if err != nil {
		return err
	}
	for _, m := range set {
		if _, done := applied[m.Version]; done {
			continue
		}
		err := db.inTx(ctx, m.Up,
			"INSERT INTO "+ledgerTable+" (version, applied_at) VALUES (?, ?)",
			m.Version, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (db *DB) migrateDown(ctx context.Context, set []Migration) (*Migration, error) {
	applied, err := db.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return nil, ErrNothingToRevert
	}

	latest := ""
	for version := range applied {
		latest = max(latest, version)
	}
	i := slices.IndexFunc(set, func(m Migration) bool { return m.Version == latest })
	if i < 0 {
		return nil, fmt.Errorf("applied migration %s has no file", latest)
	}
	m := set[i]
	if m.Down == "" {
		return nil, fmt.Errorf("migration %s_%s cannot be reverted: no down file", m.Version, m.Name)
	}

	if err := db.inTx(ctx, m.Down, "DELETE FROM "+ledgerTable+" WHERE version = ?", m.Version); err != nil {
		return nil, fmt.Errorf("reverting migration %s_%s: %w", m.Version, m.Name, err)
	}
	return &m, nil
}

func (db *DB) migrationStatus(ctx context.Context, set []Migration) ([]MigrationState, error) {
	applied, err := db.ledger(ctx)
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(set))
	for _, m := range set {
		at, ok := applied[m.Version]
		states = append(states, MigrationState{Migration: m, Applied: ok, AppliedAt: at})
		delete(applied, m.Version)
	}
	for version, at := range applied {
		states = append(states, MigrationState{Migration: Migration{Version: version}, Applied: true, AppliedAt: at})
	}
	slices.SortFunc(states, func(a, b MigrationState) int { return strings.Compare(a.Version, b.Version) })
	return states, nil
}

// ledger creates the ledger table when missing and returns its rows.
func (db *DB) ledger(ctx context.Context) (map[string]time.Time, error) {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+ledgerTable+
		" (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL)"); err != nil {
		return nil, fmt.Errorf("creating migration ledger: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM "+ledgerTable)
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version, at string
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("reading migration ledger: %w", err)
		}
		applied[version], _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by migrateUp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	return applied, nil
}

// inTx runs a schema script and one ledger statement atomically.
func (db *DB) inTx(ctx context.Context, script, ledgerStmt string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("executing script: %w", err)
	}
	if _, err := tx.ExecContext(ctx, db.Rebind(ledgerStmt), args...); err != nil {
		return fmt.Errorf("updating ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}
