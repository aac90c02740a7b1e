package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	widgetsUp   = "CREATE TABLE widgets (id TEXT PRIMARY KEY, label TEXT NOT NULL);"
	widgetsDown = "DROP TABLE widgets;"
	gadgetsUp   = "CREATE TABLE gadgets (id TEXT PRIMARY KEY);"
	gadgetsDown = "DROP TABLE gadgets;"
)

func twoMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_090000_widgets.up.sql":   {Data: []byte(widgetsUp)},
		"20260301_090000_widgets.down.sql": {Data: []byte(widgetsDown)},
		"20260302_080000_gadgets.up.sql":   {Data: []byte(gadgetsUp)},
		"20260302_080000_gadgets.down.sql": {Data: []byte(gadgetsDown)},
		"README.md":                        {Data: []byte("not a migration")},
	}
}

func mustLoad(t *testing.T, fsys fstest.MapFS) []Migration {
	t.Helper()
	set, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	return set
}

func TestLoadMigrations_PairsAndOrders(t *testing.T) {
	set := mustLoad(t, twoMigrations())

	if len(set) != 2 {
		t.Fatalf("len = %d, want 2", len(set))
	}
	if set[0].Version != "20260301_090000" || set[0].Name != "widgets" {
		t.Errorf("first = %s_%s", set[0].Version, set[0].Name)
	}
	if set[0].Up != widgetsUp || set[0].Down != widgetsDown {
		t.Errorf("widgets scripts not paired: %+v", set[0])
	}
	if set[1].Name != "gadgets" {
		t.Errorf("second = %s", set[1].Name)
	}
}

func TestLoadMigrations_Rejects(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"malformed name", fstest.MapFS{"widgets.sql": {Data: []byte(widgetsUp)}}},
		{"upper case name", fstest.MapFS{"20260301_090000_Widgets.up.sql": {Data: []byte(widgetsUp)}}},
		{"down without up", fstest.MapFS{"20260301_090000_widgets.down.sql": {Data: []byte(widgetsDown)}}},
		{"names disagree", fstest.MapFS{
			"20260301_090000_widgets.up.sql":   {Data: []byte(widgetsUp)},
			"20260301_090000_gizmos.down.sql": {Data: []byte(widgetsDown)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadMigrations(tt.fsys); err == nil {
				t.Error("LoadMigrations() error = nil")
			}
		})
	}
}

// newMockDB returns a Postgres-dialect DB over sqlmock with exact matching.
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return New(sqlDB, DriverPostgres), mock
}

const (
	ledgerDDL    = "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL)"
	ledgerSelect = "SELECT version, applied_at FROM schema_migrations"
)

func TestMigrate_PostgresRebindsLedger(t *testing.T) {
	db, mock := newMockDB(t)
	set := mustLoad(t, twoMigrations())

	mock.ExpectExec(ledgerDDL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(ledgerSelect).WillReturnRows(
		sqlmock.NewRows([]string{"version", "applied_at"}).AddRow("20260301_090000", "2026-03-01T09:00:00Z"))
	mock.ExpectBegin()
	mock.ExpectExec(gadgetsUp).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)").
		WithArgs("20260302_080000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := db.migrateUp(context.Background(), set); err != nil {
		t.Fatalf("migrateUp() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMigrate_FailureRollsBackThatMigration(t *testing.T) {
	db, mock := newMockDB(t)
	set := mustLoad(t, twoMigrations())
	boom := errors.New("relation already exists")

	mock.ExpectExec(ledgerDDL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(ledgerSelect).WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec(widgetsUp).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)").
		WithArgs("20260301_090000", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(gadgetsUp).WillReturnError(boom)
	mock.ExpectRollback()

	err := db.migrateUp(context.Background(), set)
	if !errors.Is(err, boom) {
		t.Fatalf("migrateUp() error = %v, want %v", err, boom)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMigrateDown_PostgresRevertsLatest(t *testing.T) {
	db, mock := newMockDB(t)
	set := mustLoad(t, twoMigrations())

	mock.ExpectExec(ledgerDDL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(ledgerSelect).WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).
		AddRow("20260301_090000", "2026-03-01T09:00:00Z").
		AddRow("20260302_080000", "2026-03-02T08:00:00Z"))
	mock.ExpectBegin()
	mock.ExpectExec(gadgetsDown).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM schema_migrations WHERE version = $1").
		WithArgs("20260302_080000").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := db.migrateDown(context.Background(), set)
	if err != nil {
		t.Fatalf("migrateDown() error = %v", err)
	}
	if m.Name != "gadgets" {
		t.Errorf("reverted %s, want gadgets", m.Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMigrateDown_Refusals(t *testing.T) {
	set := mustLoad(t, fstest.MapFS{"20260301_090000_widgets.up.sql": {Data: []byte(widgetsUp)}})

	tests := []struct {
		name    string
		applied *sqlmock.Rows
		want    error
	}{
		{"nothing applied", sqlmock.NewRows([]string{"version", "applied_at"}), ErrNothingToRevert},
		{"no down file", sqlmock.NewRows([]string{"version", "applied_at"}).AddRow("20260301_090000", ""), nil},
		{"unknown version", sqlmock.NewRows([]string{"version", "applied_at"}).AddRow("20991231_000000", ""), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(ledgerDDL).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(ledgerSelect).WillReturnRows(tt.applied)

			_, err := db.migrateDown(context.Background(), set)
			if err == nil {
				t.Fatal("migrateDown() error = nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("migrateDown() error = %v, want %v", err, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestMigrationStatus_ReportsPendingAndOrphans(t *testing.T) {
	db, mock := newMockDB(t)
	set := mustLoad(t, twoMigrations())

	mock.ExpectExec(ledgerDDL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(ledgerSelect).WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).
		AddRow("20260301_090000", "2026-03-01T09:00:00Z").
		AddRow("20250101_000000", "2025-01-01T00:00:00Z"))

	states, err := db.migrationStatus(context.Background(), set)
	if err != nil {
		t.Fatalf("migrationStatus() error = %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("len = %d, want 3", len(states))
	}

	orphan, widgets, gadgets := states[0], states[1], states[2]
	if orphan.Version != "20250101_000000" || !orphan.Applied || orphan.Up != "" {
		t.Errorf("orphan = %+v", orphan)
	}
	if !widgets.Applied || widgets.AppliedAt.IsZero() {
		t.Errorf("widgets = %+v", widgets)
	}
	if gadgets.Applied {
		t.Error("gadgets should be pending")
	}
}

// TestMigrate_SQLiteUpDown runs a set against a real SQLite file.
func TestMigrate_SQLiteUpDown(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()
	set := mustLoad(t, twoMigrations())

	if err := db.migrateUp(ctx, set); err != nil {
		t.Fatalf("migrateUp() error = %v", err)
	}
	// Applying again is a no-op.
	if err := db.migrateUp(ctx, set); err != nil {
		t.Fatalf("second migrateUp() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO gadgets (id) VALUES (?)", "g-1"); err != nil {
		t.Fatalf("gadgets not created: %v", err)
	}

	if _, err := db.migrateDown(ctx, set); err != nil {
		t.Fatalf("migrateDown() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO gadgets (id) VALUES (?)", "g-2"); err == nil {
		t.Error("gadgets should be dropped")
	}

	states, err := db.migrationStatus(ctx, set)
	if err != nil {
		t.Fatalf("migrationStatus() error = %v", err)
	}
	if !states[0].Applied || states[1].Applied {
		t.Errorf("states = %+v", states)
	}
}

func TestMigrate_NothingRegistered(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.migrateUp(context.Background(), nil); err != nil {
		t.Errorf("migrateUp(nil) error = %v", err)
	}
}
