package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	"github.com/peterldowns/testdb/migrators/common"
)

// A Migrator prepares the schema of a freshly created test database. Migrate
// is called exactly once per test database, right after it is created, with a
// connection bound to that database.
type Migrator interface {
	Migrate(context.Context, *sql.DB, Config) error
}

// NoopMigrator leaves the test database empty.
type NoopMigrator struct{}

func (NoopMigrator) Migrate(context.Context, *sql.DB, Config) error {
	return nil
}

// Execer is the subset of *sql.DB used to run migration files.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DefaultMarker identifies the project root that [DirMigrator.Dir] is
// relative to.
const DefaultMarker = "go.mod"

// DefaultExtension is the extension of migration files.
const DefaultExtension = ".sql"

// DirOption configures a [DirMigrator].
type DirOption func(*DirMigrator)

// WithFS reads migrations from `fsys` instead of the project directory on
// disk. [DirMigrator.Dir] is then relative to the root of `fsys` and no
// project root lookup happens.
func WithFS(fsys fs.FS) DirOption {
	return func(m *DirMigrator) {
		m.FS = fsys
	}
}

// WithMarker sets the file whose presence identifies the project root.
//
// Default: `"go.mod"`
func WithMarker(marker string) DirOption {
	return func(m *DirMigrator) {
		m.Marker = marker
	}
}

// WithExtension sets the extension of the files treated as migrations.
//
// Default: `".sql"`
func WithExtension(ext string) DirOption {
	return func(m *DirMigrator) {
		m.Extension = ext
	}
}

// NewDirMigrator returns a [DirMigrator] for the directory `dir`, which is
// relative to the project root.
func NewDirMigrator(dir string, opts ...DirOption) *DirMigrator {
	m := &DirMigrator{
		Dir:       dir,
		Marker:    DefaultMarker,
		Extension: DefaultExtension,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DirMigrator replays every migration file in a directory against each new
// test database. It keeps no record of what was applied: files are read in
// ascending path order and each file's full contents are sent as one
// statement, stopping at the first error. Name your files so that
// lexicographic order is execution order (`001_init.sql`, `002_users.sql`).
type DirMigrator struct {
	Dir       string
	Marker    string
	Extension string
	FS        fs.FS
}

// Files returns the filesystem and the ordered migration paths within it.
func (m *DirMigrator) Files() (fs.FS, []string, error) {
	fsys := m.FS
	if fsys == nil {
		if m.Dir == "" {
			return nil, nil, &ConfigError{Key: EnvMigrationsDir, Err: ErrMissingConfig}
		}
		cwd, err := os.Getwd()
		if err != nil {
			return nil, nil, err
		}
		root, err := common.ProjectRoot(cwd, m.Marker)
		if err != nil {
			return nil, nil, &ConfigError{Key: m.Marker, Err: err}
		}
		fsys = os.DirFS(root)
	}
	dir := m.Dir
	if dir == "" {
		dir = "."
	}
	paths, err := common.ListFiles(fsys, dir, m.Extension)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list migrations in %s: %w", dir, err)
	}
	return fsys, paths, nil
}

// Apply executes each migration file against `db`, in order.
func (m *DirMigrator) Apply(ctx context.Context, db Execer) error {
	fsys, paths, err := m.Files()
	if err != nil {
		return err
	}
	for _, path := range paths {
		contents, err := fs.ReadFile(fsys, path)
		if err != nil {
			return &MigrationError{File: path, Err: err}
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return &MigrationError{File: path, Err: err}
		}
	}
	return nil
}

func (m *DirMigrator) Migrate(ctx context.Context, db *sql.DB, conf Config) error {
	err := m.Apply(ctx, db)
	if migrationErr, ok := err.(*MigrationError); ok { //nolint:errorlint // only set by Apply
		migrationErr.Database = conf.Database
	}
	return err
}
