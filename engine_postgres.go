package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/peterldowns/testdb/internal/sessionlock"
)

// sqlstateDuplicateDatabase is returned by CREATE DATABASE when the name is
// taken.
const sqlstateDuplicateDatabase = "42P04"

// Postgres is the [Engine] for Postgres servers, reached through either the
// pgx or the lib/pq driver. It is also a [Locker].
type Postgres struct {
	DriverName string
}

func (p Postgres) ListDatabases(ctx context.Context, db *sql.DB) ([]Database, error) {
	var databases []Database
	query := "SELECT datname AS name FROM pg_database WHERE NOT datistemplate"
	if err := sqlx.SelectContext(ctx, p.wrap(db), &databases, query); err != nil {
		return nil, err
	}
	return databases, nil
}

func (p Postgres) CurrentDatabase(ctx context.Context, db *sql.DB) (Database, error) {
	var database Database
	err := sqlx.GetContext(ctx, p.wrap(db), &database, "SELECT current_database() AS name")
	return database, err
}

// CreateDatabase issues CREATE DATABASE and treats "already exists" as
// success, since Postgres has no IF NOT EXISTS form for databases.
func (Postgres) CreateDatabase(ctx context.Context, db *sql.DB, name string) error {
	query := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{name}.Sanitize())
	if _, err := db.ExecContext(ctx, query); err != nil && !isDuplicateDatabase(err) {
		return err
	}
	return nil
}

func (Postgres) DropDatabase(ctx context.Context, db *sql.DB, name string) error {
	query := fmt.Sprintf("DROP DATABASE %s", pgx.Identifier{name}.Sanitize())
	_, err := db.ExecContext(ctx, query)
	return err
}

// WithLock holds a session-level advisory lock named `name` while `cb` runs.
func (Postgres) WithLock(ctx context.Context, db *sql.DB, name string, cb func() error) error {
	return sessionlock.With(ctx, db, name, func(*sql.Conn) error {
		return cb()
	})
}

func (p Postgres) wrap(db *sql.DB) *sqlx.DB {
	driverName := p.DriverName
	if driverName == "" {
		driverName = DriverPgx
	}
	return sqlx.NewDb(db, driverName)
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlstateDuplicateDatabase
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == sqlstateDuplicateDatabase
	}
	return false
}
