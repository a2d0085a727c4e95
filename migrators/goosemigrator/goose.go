// goosemigrator runs goose migrations against each new test database, for
// projects whose schema is already managed with goose.
package goosemigrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/peterldowns/testdb"
)

// Goose doesn't provide a constant for the default value.
// This will be `"goose_db_version"`.
var DefaultTableName = goose.DefaultTablename //nolint:gochecknoglobals

// Option provides a way to configure the `goose.Provider` used by
// [GooseMigrator] to run migrations.
//
// goose-migrate documentation:
// - https://github.com/pressly/goose#migrations
// - https://pressly.github.io/goose/documentation/provider/
type Option func(*GooseMigrator)

// WithTableName specifies the name of the table in which goose will store its
// migration records.
//
// Default: `"goose_db_version"`
func WithTableName(tableName string) Option {
	return func(gm *GooseMigrator) {
		gm.TableName = tableName
	}
}

// WithFS specifies a `fs.FS` from which to read the migration files.
//
// Default: `os.DirFS(".")`
func WithFS(dir fs.FS) Option {
	return func(gm *GooseMigrator) {
		gm.FS = dir
	}
}

// New returns a [GooseMigrator] for the migrations in `migrationsDir`.
func New(migrationsDir string, opts ...Option) *GooseMigrator {
	gm := &GooseMigrator{
		MigrationsDir: migrationsDir,
		TableName:     DefaultTableName,
		FS:            os.DirFS("."),
	}
	for _, opt := range opts {
		opt(gm)
	}
	return gm
}

// GooseMigrator is a [testdb.Migrator] that runs every pending goose `Up`
// migration. Since each test database is new, that is all of them. The goose
// dialect follows [testdb.Config.DriverName], and the global registry of Go
// migration functions is disabled.
type GooseMigrator struct {
	TableName     string
	MigrationsDir string
	FS            fs.FS
}

// DialectFor returns the goose dialect for a testdb driver name.
func DialectFor(driverName string) (database.Dialect, error) {
	switch driverName {
	case testdb.DriverClickHouse:
		return database.DialectClickHouse, nil
	case testdb.DriverPgx, testdb.DriverPostgres:
		return database.DialectPostgres, nil
	default:
		return "", fmt.Errorf("goosemigrator: %w: %q", testdb.ErrUnsupportedDriver, driverName)
	}
}

func (gm *GooseMigrator) Migrate(ctx context.Context, db *sql.DB, conf testdb.Config) error {
	dialect, err := DialectFor(conf.DriverName)
	if err != nil {
		return err
	}
	store, err := database.NewStore(dialect, gm.TableName)
	if err != nil {
		return err
	}
	migrationsDir, err := fs.Sub(gm.FS, gm.MigrationsDir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider("", db, migrationsDir,
		goose.WithStore(store),
		goose.WithDisableGlobalRegistry(true),
	)
	if err != nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return &testdb.MigrationError{Database: conf.Database, File: failedSource(err), Err: err}
	}
	return nil
}

func failedSource(err error) string {
	var partial *goose.PartialError
	if errors.As(err, &partial) && partial.Failed != nil && partial.Failed.Source != nil {
		return partial.Failed.Source.Path
	}
	return ""
}
