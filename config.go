package testdb

import (
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	"github.com/spf13/viper"
)

// Supported values for [Config.DriverName].
const (
	DriverClickHouse = "clickhouse"
	DriverPgx        = "pgx"
	DriverPostgres   = "postgres"
)

// Environment variables read by [ConfigFromEnv].
const (
	EnvDriver             = "TESTDB_DRIVER"
	EnvMigrationsDir      = "MIGRATIONS_DIR"
	EnvClickHouseURL      = "CLICKHOUSE_URL"
	EnvClickHouseDB       = "CLICKHOUSE_DB"
	EnvClickHouseUser     = "CLICKHOUSE_USER"
	EnvClickHousePassword = "CLICKHOUSE_PASSWORD"
	EnvPostgresURL        = "POSTGRES_URL"
	EnvPostgresDB         = "POSTGRES_DB"
	EnvPostgresUser       = "POSTGRES_USER"
	EnvPostgresPassword   = "POSTGRES_PASSWORD"
)

// DotEnvFile is the optional local override file read by [NewViper].
const DotEnvFile = ".env"

// Config contains the details needed to connect to a database server, and the
// database that connections should be bound to.
type Config struct {
	DriverName    string
	URL           string
	Database      string
	User          string
	Password      string
	MigrationsDir string
}

type envKeys struct {
	url, db, user, password string
}

func keysFor(driverName string) (envKeys, bool) {
	switch driverName {
	case DriverClickHouse:
		return envKeys{EnvClickHouseURL, EnvClickHouseDB, EnvClickHouseUser, EnvClickHousePassword}, true
	case DriverPgx, DriverPostgres:
		return envKeys{EnvPostgresURL, EnvPostgresDB, EnvPostgresUser, EnvPostgresPassword}, true
	default:
		return envKeys{}, false
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(EnvDriver, DriverClickHouse)
	v.SetDefault(EnvClickHouseURL, "http://localhost:8123")
	v.SetDefault(EnvClickHouseDB, "default")
	v.SetDefault(EnvClickHouseUser, "default")
	v.SetDefault(EnvClickHousePassword, "")
	v.SetDefault(EnvPostgresURL, "postgres://localhost:5432?sslmode=disable")
	v.SetDefault(EnvPostgresDB, "postgres")
	v.SetDefault(EnvPostgresUser, "postgres")
	v.SetDefault(EnvPostgresPassword, "")
}

// NewViper returns a viper instance seeded with the default connection
// settings, reading overrides from the environment and from the nearest
// [DotEnvFile] in the working directory or its parents. The process
// environment always wins over the file. A missing file is not an error.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cwd, err := os.Getwd()
	if err != nil {
		return v, nil //nolint:nilerr // no working directory means no .env to read
	}
	path := findDotEnv(cwd)
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &ConfigError{Key: path, Err: err}
	}
	return v, nil
}

func findDotEnv(dir string) string {
	for {
		candidate := filepath.Join(dir, DotEnvFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ConfigFromViper builds a [Config] from an already-populated viper instance.
// Only the driver name is validated; a malformed URL is reported later, when a
// connection is built from it.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	driverName := v.GetString(EnvDriver)
	keys, ok := keysFor(driverName)
	if !ok {
		return Config{}, &ConfigError{
			Key: EnvDriver,
			Err: fmt.Errorf("%w: %q", ErrUnsupportedDriver, driverName),
		}
	}
	return Config{
		DriverName:    driverName,
		URL:           v.GetString(keys.url),
		Database:      v.GetString(keys.db),
		User:          v.GetString(keys.user),
		Password:      v.GetString(keys.password),
		MigrationsDir: v.GetString(EnvMigrationsDir),
	}, nil
}

// ConfigFromEnv resolves a [Config] from the environment, falling back to
// defaults for a server on localhost.
func ConfigFromEnv() (Config, error) {
	v, err := NewViper()
	if err != nil {
		return Config{}, err
	}
	return ConfigFromViper(v)
}

// WithDatabase returns a copy of the config bound to another database.
func (c Config) WithDatabase(name string) Config {
	c.Database = name
	return c
}

// String describes the config without its password.
func (c Config) String() string {
	return fmt.Sprintf("%s %s db=%s user=%s", c.DriverName, c.URL, c.Database, c.User)
}

// Connect builds a *sql.DB for the configured database. No connection is made
// until the handle is first used.
func (c Config) Connect() (*sql.DB, error) {
	switch c.DriverName {
	case DriverClickHouse:
		opts, err := c.clickhouseOptions()
		if err != nil {
			return nil, err
		}
		return clickhouse.OpenDB(opts), nil
	case DriverPgx, DriverPostgres:
		dsn, err := c.postgresURL()
		if err != nil {
			return nil, err
		}
		return sql.Open(c.DriverName, dsn)
	default:
		return nil, &ConfigError{
			Key: EnvDriver,
			Err: fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.DriverName),
		}
	}
}

func (c Config) clickhouseOptions() (*clickhouse.Options, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid clickhouse url %q: %w", c.URL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid clickhouse url %q: missing host", c.URL)
	}
	opts := &clickhouse.Options{
		Addr: []string{u.Host},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		DialTimeout: 5 * time.Second,
	}
	switch u.Scheme {
	case "http":
		opts.Protocol = clickhouse.HTTP
	case "https":
		opts.Protocol = clickhouse.HTTP
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	case "clickhouse", "tcp":
		opts.Protocol = clickhouse.Native
	default:
		return nil, fmt.Errorf("invalid clickhouse url %q: unsupported scheme %q", c.URL, u.Scheme)
	}
	if p := strings.Trim(u.Path, "/"); p != "" && opts.Protocol == clickhouse.HTTP {
		opts.HttpUrlPath = "/" + p
	}
	return opts, nil
}

func (c Config) postgresURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid postgres url %q: %w", c.URL, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("invalid postgres url %q: unsupported scheme %q", c.URL, u.Scheme)
	}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	u.Path = "/" + c.Database
	return u.String(), nil
}
