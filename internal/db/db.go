package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Dialect identifies which SKIP-LOCKED-capable (or not) backend a
// connection talks to, so internal/outbox can pick the right claim query.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// New opens a connection pool for databaseURL, detecting the backend from
// its scheme the way the teacher's internal/db/db.go already did for
// libsql vs. local sqlite, generalized here to also recognize
// postgres://, postgresql://, and mysql:// so the Outbox Scheduler's
// SKIP-LOCKED claim query (spec §6.4) has a real target to exercise.
func New(databaseURL string) (*DB, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return openPooled(databaseURL, "pgx", DialectPostgres, 25, 10)
	case strings.HasPrefix(databaseURL, "mysql://"):
		return openPooled(strings.TrimPrefix(databaseURL, "mysql://"), "mysql", DialectMySQL, 25, 10)
	case strings.HasPrefix(databaseURL, "libsql://"), strings.HasPrefix(databaseURL, "http://"), strings.HasPrefix(databaseURL, "https://"):
		return openPooled(databaseURL, "libsql", DialectSQLite, 25, 10)
	default:
		return openSQLiteFile(databaseURL)
	}
}

func openPooled(dsn, driver string, dialect Dialect, maxOpen, maxIdle int) (*DB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxIdle)
	conn.SetConnMaxLifetime(5 * time.Minute)
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", driver, err)
	}
	return &DB{conn: conn, dialect: dialect}, nil
}

func openSQLiteFile(databaseURL string) (*DB, error) {
	dbDir := filepath.Dir(databaseURL)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	var conn *sql.DB
	var err error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)

		if err = conn.Ping(); err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("ping database after %d attempts: %w", maxRetries, err)
			}
			conn.Close()
			time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
			continue
		}
		break
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	return &DB{conn: conn, dialect: DialectSQLite}, nil
}

func (db *DB) Close() error {
	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(0)
	db.conn.SetConnMaxLifetime(0)
	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB { return db.conn }

func (db *DB) Dialect() Dialect { return db.dialect }

// Migrate runs the embedded goose migrations against this connection.
func (db *DB) Migrate() error {
	return RunMigrations(db.conn, string(db.dialect))
}
