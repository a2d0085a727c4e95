package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ClickHouse is the [Engine] for ClickHouse servers.
type ClickHouse struct{}

func (ClickHouse) ListDatabases(ctx context.Context, db *sql.DB) ([]Database, error) {
	var databases []Database
	dbx := sqlx.NewDb(db, DriverClickHouse)
	if err := sqlx.SelectContext(ctx, dbx, &databases, "SELECT name FROM system.databases"); err != nil {
		return nil, err
	}
	return databases, nil
}

func (ClickHouse) CurrentDatabase(ctx context.Context, db *sql.DB) (Database, error) {
	var database Database
	dbx := sqlx.NewDb(db, DriverClickHouse)
	err := sqlx.GetContext(ctx, dbx, &database, "SELECT currentDatabase() AS name")
	return database, err
}

func (ClickHouse) CreateDatabase(ctx context.Context, db *sql.DB, name string) error {
	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", quoteClickHouse(name))
	_, err := db.ExecContext(ctx, query)
	return err
}

func (ClickHouse) DropDatabase(ctx context.Context, db *sql.DB, name string) error {
	query := fmt.Sprintf("DROP DATABASE %s", quoteClickHouse(name))
	_, err := db.ExecContext(ctx, query)
	return err
}

func quoteClickHouse(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}
