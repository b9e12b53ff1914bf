package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies every embedded migration in order via goose,
// adapting the teacher's db.Migrate()/RunMigrations split (the teacher
// never actually defined RunMigrations; this is a fresh implementation
// against the goose library already present in the example pack's
// toolWithOAuthMiddleware/cloudshipai-station go.mod).
func RunMigrations(conn *sql.DB, dialect string) error {
	goose.SetBaseFS(migrationFS)
	gooseDialect := dialect
	if gooseDialect == "" {
		gooseDialect = "sqlite3"
	}
	if gooseDialect == "sqlite" {
		gooseDialect = "sqlite3"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("set migration dialect %s: %w", gooseDialect, err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
