// withdb is a simplified way of creating test databases, used to test the
// internal packages that testdb depends on.
package withdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// ErrUnavailable is returned when no postgres server answers at the
// configured address. Callers usually skip the test.
var ErrUnavailable = errors.New("withdb: postgres server unavailable")

// WithDB is a helper for writing postgres-backed tests. It will:
// - connect to the postgres server named by POSTGRES_URL and friends
// - create a new, empty test database with a unique name
// - open a connection to that test database
// - run the `cb` function
// - remove the test database
//
// This is designed to be an internal helper for testing other database-related
// packages, and should not be relied upon externally.
func WithDB(ctx context.Context, driverName string, cb func(*sql.DB) error) (final error) {
	v := settings()
	db, err := sql.Open(driverName, connectionString(v, v.GetString("POSTGRES_DB")))
	if err != nil {
		return fmt.Errorf("withdb(postgres) failed to open: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			err = fmt.Errorf("withdb(postgres) failed to close: %w", err)
			final = multierr.Append(final, err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	testDBName := randomID("withdb")
	query := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{testDBName}.Sanitize())
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("withdb(%s) failed to create: %w", testDBName, err)
	}
	testDB, err := sql.Open(driverName, connectionString(v, testDBName))
	if err != nil {
		return fmt.Errorf("withdb(%s) failed to open: %w", testDBName, err)
	}
	defer func() {
		if err := testDB.Close(); err != nil {
			err = fmt.Errorf("withdb(%s) failed to close: %w", testDBName, err)
			final = multierr.Append(final, err)
		}
		query := fmt.Sprintf("DROP DATABASE %s", pgx.Identifier{testDBName}.Sanitize())
		if _, err = db.ExecContext(ctx, query); err != nil {
			err = fmt.Errorf("withdb(%s) failed to drop: %w", testDBName, err)
			final = multierr.Append(final, err)
		}
	}()
	return cb(testDB)
}

func settings() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("POSTGRES_URL", "postgres://localhost:5432?sslmode=disable")
	v.SetDefault("POSTGRES_DB", "postgres")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "")
	return v
}

func randomID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func connectionString(v *viper.Viper, dbname string) string {
	u, err := url.Parse(v.GetString("POSTGRES_URL"))
	if err != nil {
		// sql.Open reports the unparseable string
		return v.GetString("POSTGRES_URL")
	}
	if password := v.GetString("POSTGRES_PASSWORD"); password != "" {
		u.User = url.UserPassword(v.GetString("POSTGRES_USER"), password)
	} else {
		u.User = url.User(v.GetString("POSTGRES_USER"))
	}
	u.Path = "/" + dbname
	return u.String()
}
