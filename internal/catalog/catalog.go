// Package catalog is the persistent, single-writer-at-a-time embedded
// store backing TapeVault: two tables, tapes and files, plus the range-
// scan-friendly indexes that let prefix lookups stay logarithmic even
// against a catalog with millions of file rows.
package catalog

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the catalog's SQLite connection. A dedicated type rather
// than a bare *sql.DB because every operation the rest of TapeVault
// needs (ReplaceTapeContents, LookupFile, the prefix-range scans) is a
// method of Store, not ad-hoc SQL scattered across callers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at dbPath
// and brings its schema up to date. SetMaxOpenConns(1) gives the store
// a single connection, so every statement, the FUSE adapter's reads
// included, is serialized through it: a read waits while a write
// transaction such as ReplaceTapeContents holds the connection.
func Open(dbPath string) (*Store, error) {
	if err := ensureParentDir(dbPath); err != nil {
		return nil, err
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening catalog at %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to catalog at %s: %w", dbPath, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func ensureParentDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating catalog directory %s: %w", dir, err)
	}
	return nil
}

// pendingMigration is one embedded migration file still to apply,
// parsed out of its "%03d_name.sql" filename.
type pendingMigration struct {
	version int
	name    string
	sql     string
}

// migrate brings the schema up to the latest embedded migration,
// applying each one still above the recorded schema_migrations
// version inside its own transaction. Migrations are sorted by their
// parsed numeric version rather than trusted to already be in
// filesystem order, so a non-zero-padded or oddly-named file can't
// silently apply out of sequence.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("reading current schema version: %w", err)
	}

	pending, err := pendingMigrations(current)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := s.applyMigration(m); err != nil {
			return err
		}
	}
	return nil
}

// pendingMigrations reads migrations/*.sql, parses the leading
// numeric version out of each filename, and returns those newer than
// current in ascending version order. Filenames that don't parse as
// "%03d_..." are skipped rather than treated as an error, since a
// stray non-migration file in the embedded directory shouldn't stop
// the daemon from starting.
func pendingMigrations(current int) ([]pendingMigration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("listing embedded migrations: %w", err)
	}

	var pending []pendingMigration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, ok := parseMigrationVersion(entry.Name())
		if !ok || version <= current {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		pending = append(pending, pendingMigration{version: version, name: entry.Name(), sql: string(content)})
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}

// parseMigrationVersion extracts the leading "NNN" from a
// "NNN_description.sql" filename.
func parseMigrationVersion(name string) (int, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return version, true
}

func (s *Store) applyMigration(m pendingMigration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction for migration %s: %w", m.name, err)
	}

	if _, err := tx.Exec(m.sql); err != nil {
		tx.Rollback()
		return fmt.Errorf("applying migration %s: %w", m.name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration %s as applied: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", m.name, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
