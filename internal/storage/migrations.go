package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFS embed.FS

// Dialect selects the SQL flavour of a migration set.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Schema names a directory of numbered migrations under migrations/.
type Schema string

const (
	// SchemaKnowledgeSQLite is the knowledge layout for sqlite: entries, the
	// FTS5 index with its sync triggers and the timeline.
	SchemaKnowledgeSQLite Schema = "sqlite"

	// SchemaKnowledgePostgres is the knowledge layout for postgres.
	SchemaKnowledgePostgres Schema = "postgres"

	// SchemaMetrics is the request_metrics layout (sqlite only).
	SchemaMetrics Schema = "metrics"
)

// SchemaManager applies an embedded migration set to a database. Applying is
// idempotent: a database that is already current is left untouched.
//
// The *sql.DB is owned by the caller; the manager never closes it.
type SchemaManager struct {
	db      *sql.DB
	dialect Dialect
	schema  Schema
}

// NewSchemaManager creates a SchemaManager for db.
func NewSchemaManager(db *sql.DB, dialect Dialect, schema Schema) (*SchemaManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: %w: database connection is required", ErrInvalidInput)
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("migrations: %w: unsupported dialect %q", ErrInvalidInput, dialect)
	}
	return &SchemaManager{db: db, dialect: dialect, schema: schema}, nil
}

// Up applies all pending migrations. It returns nil when the schema is
// already up to date.
func (m *SchemaManager) Up() error {
	mg, err := m.migrator()
	if err != nil {
		return err
	}
	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: apply %s: %w", m.schema, err)
	}
	return nil
}

// Version returns the applied schema version and whether the last migration
// left the database dirty. A database with no migrations reports version 0.
func (m *SchemaManager) Version() (uint, bool, error) {
	mg, err := m.migrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: version: %w", err)
	}
	return version, dirty, nil
}

// migrator builds a migrate instance over the embedded source. The migrate
// instance is intentionally never closed: closing it would close the shared
// *sql.DB.
func (m *SchemaManager) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, path.Join("migrations", string(m.schema)))
	if err != nil {
		return nil, fmt.Errorf("migrations: open source %s: %w", m.schema, err)
	}

	table := "schema_migrations"
	if m.schema == SchemaMetrics {
		// The metrics set may share a file with the knowledge set.
		table = "metrics_schema_migrations"
	}

	var driver database.Driver
	switch m.dialect {
	case DialectSQLite:
		driver, err = migratesqlite.WithInstance(m.db, &migratesqlite.Config{MigrationsTable: table})
	case DialectPostgres:
		driver, err = migratepg.WithInstance(m.db, &migratepg.Config{MigrationsTable: table})
	}
	if err != nil {
		return nil, fmt.Errorf("migrations: create %s driver: %w", m.dialect, err)
	}

	mg, err := migrate.NewWithInstance("iofs", src, string(m.dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: create migrator: %w", err)
	}
	return mg, nil
}
