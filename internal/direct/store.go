package direct

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/policysql"
)

// Schema version tracking:
// 0 - empty database
// 1 - catalog tables, internal sync tables
const currentSchemaVersion = 1

// Driver names accepted by Open.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int

	// Catalog defaults to catalog.Default().
	Catalog *catalog.Catalog
	Logger  *slog.Logger

	// Now and NewID are injectable for deterministic tests.
	Now   func() time.Time
	NewID func() (string, error)
}

// Store is the direct adapter.
type Store struct {
	db      *sql.DB
	dialect catalog.Dialect
	cat     *catalog.Catalog
	pred    *policysql.Compiler
	logger  *slog.Logger
	now     func() time.Time
	newID   func() (string, error)
	mirror  backend.Mirror
}

var _ backend.Adapter = (*Store)(nil)

// DialectOf maps a driver name to its SQL dialect.
func DialectOf(driver string) (catalog.Dialect, error) {
	switch driver {
	case DriverPostgres, "postgres":
		return catalog.Postgres, nil
	case DriverSQLite, "sqlite":
		return catalog.SQLite, nil
	}
	return "", fmt.Errorf("unknown driver %q: must be pgx or sqlite3", driver)
}

// Open connects to the store and applies migrations.
//
// SQLite connections are configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement, which the delete semantics rely on
//   - a single open connection, since SQLite has one writer
//
// This function is idempotent - safe to call on an existing database.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialect, err := DialectOf(opts.Driver)
	if err != nil {
		return nil, err
	}
	driver := DriverSQLite
	if dialect == catalog.Postgres {
		driver = DriverPostgres
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, backend.Unavailable(fmt.Errorf("connect to database: %w", err))
	}

	if dialect == catalog.SQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		cat:     opts.Catalog,
		pred:    policysql.NewCompiler(),
		logger:  opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if s.cat == nil {
		s.cat = catalog.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newUUIDv7
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB. Queries issued through it bypass
// authorization; tests and migrations only.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect reports the SQL dialect of the connection.
func (s *Store) Dialect() catalog.Dialect {
	return s.dialect
}

// Catalog returns the catalog the store was opened with.
func (s *Store) Catalog() *catalog.Catalog {
	return s.cat
}

// SetMirror installs the receiver of committed writes. Call before the
// store is shared; nil disables mirroring.
func (s *Store) SetMirror(m backend.Mirror) {
	s.mirror = m
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate creates the schema_version table and applies each migration
// newer than the recorded version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(ctx); err != nil {
			return err
		}
	}
	if version < currentSchemaVersion {
		if _, err := s.db.ExecContext(ctx, s.rebind("INSERT INTO schema_version (version) VALUES (?)"),
			currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}

// migrateToV1 creates every catalog table. Statements are IF NOT EXISTS,
// so a partially applied run can be repeated.
func (s *Store) migrateToV1(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range s.cat.DDL(s.dialect, true) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w\n%s", err, stmt)
		}
	}
	return tx.Commit()
}

// SchemaVersion reports the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

func (s *Store) rebind(query string) string {
	return policysql.Rebind(s.dialect, query)
}
