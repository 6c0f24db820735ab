package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dtnitsch/mktdata-loader/models"
)

const DefaultDBName = "mktdata.db"

type DB struct {
	*sql.DB
	path    string
	dialect Dialect
}

// openDB opens a database handle for the given driver
func openDB(dialect Dialect, dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		// One writer; also keeps :memory: databases on a single connection
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)

		// Enable foreign keys
		if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = sqlDB.Close() // Close error less important than PRAGMA error
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if _, err := sqlDB.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
		return sqlDB, nil
	}

	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return sqlDB, nil
}

// Open opens or creates the database described by cfg and makes sure the
// schema and seed rows exist.
func Open(cfg models.DatabaseConfig) (*DB, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if dsn == "" && dialect == SQLite {
		dsn = DefaultDBName
	}

	sqlDB, err := openDB(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db := &DB{
		DB:      sqlDB,
		path:    dsn,
		dialect: dialect,
	}

	// Auto-initialize schema if it doesn't exist
	if err := db.ensureSchemaExists(); err != nil {
		_ = db.Close() // Close error less important than schema error
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// ensureSchemaExists checks if the schema exists and initializes it if not
func (db *DB) ensureSchemaExists() error {
	var count int
	err := db.QueryRow(db.dialect.Rebind(db.dialect.tableExistsQuery()), "procstates").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}

	if count == 0 {
		return db.InitSchema()
	}

	// Schema exists; reseed in case the catalog grew
	return db.seed(context.Background())
}

// Path returns the database file path or DSN
func (db *DB) Path() string {
	return db.path
}

// Dialect returns the SQL dialect of the underlying driver
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// InitSchema initializes the database schema and seeds lookup tables
func (db *DB) InitSchema() error {
	schema := schemaSQLite
	if db.dialect == Postgres {
		schema = schemaPostgres
	}
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return db.seed(context.Background())
}

// seed inserts the job catalog and topic vocabulary. Safe to repeat.
func (db *DB) seed(ctx context.Context) error {
	conn := db.Conn()
	for _, p := range models.ProcTypes {
		if _, err := conn.Exec(ctx,
			"INSERT INTO proctypes (name) VALUES (?) ON CONFLICT (name) DO NOTHING", string(p)); err != nil {
			return fmt.Errorf("failed to seed proc type %s: %w", p, err)
		}
	}
	for _, t := range models.Topics {
		if _, err := conn.Exec(ctx,
			"INSERT INTO topicrefs (name) VALUES (?) ON CONFLICT (name) DO NOTHING", t); err != nil {
			return fmt.Errorf("failed to seed topic %s: %w", t, err)
		}
	}
	return nil
}

// OpenMemory opens a private in-memory SQLite database with the schema
// applied. Used by tests across packages.
func OpenMemory() (*DB, error) {
	sqlDB, err := openDB(SQLite, ":memory:")
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, path: ":memory:", dialect: SQLite}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}
