package testdb

import (
	"context"
	"database/sql"
	"fmt"
)

// An Engine knows how to run the four catalog operations testdb depends on
// against one kind of database server.
type Engine interface {
	// ListDatabases returns every database on the server.
	ListDatabases(ctx context.Context, db *sql.DB) ([]Database, error)
	// CurrentDatabase asks the server which database `db` is bound to.
	CurrentDatabase(ctx context.Context, db *sql.DB) (Database, error)
	// CreateDatabase creates the database unless it already exists.
	CreateDatabase(ctx context.Context, db *sql.DB, name string) error
	// DropDatabase drops the database.
	DropDatabase(ctx context.Context, db *sql.DB, name string) error
}

// A Locker is an [Engine] that can hold a server-wide named lock, so that
// setups running in different processes are serialized as well.
type Locker interface {
	WithLock(ctx context.Context, db *sql.DB, name string, cb func() error) error
}

// EngineFor returns the [Engine] matching a [Config.DriverName].
func EngineFor(driverName string) (Engine, error) {
	switch driverName {
	case DriverClickHouse:
		return ClickHouse{}, nil
	case DriverPgx, DriverPostgres:
		return Postgres{DriverName: driverName}, nil
	default:
		return nil, &ConfigError{
			Key: EnvDriver,
			Err: fmt.Errorf("%w: %q", ErrUnsupportedDriver, driverName),
		}
	}
}
