// Package database provides durable store connectivity for CRM Core.
//
// Two drivers are supported behind one wrapper:
//   - sqlite3 (mattn/go-sqlite3), a local file with WAL mode
//   - postgres (jackc/pgx/v5/stdlib), opened lazily so an unreachable
//     server at startup is not fatal
//
// Queries are written with ? placeholders and rebound to $N for Postgres
// by the DB wrapper methods. IsUniqueViolation and IsUnavailable classify
// driver errors for both dialects.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - SQLite file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Driver: "sqlite3", Path: "./data/crm.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only and portable across both dialects:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Timestamps are fixed-width UTC TEXT, booleans are INTEGER 0/1
//   - Each migration file has both .up.sql and .down.sql
package database
