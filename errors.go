package testdb

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingConfig is wrapped by a [ConfigError] when a required value
	// has not been set.
	ErrMissingConfig = errors.New("missing required configuration")
	// ErrUnsupportedDriver is wrapped by a [ConfigError] when the configured
	// driver has no matching [Engine].
	ErrUnsupportedDriver = errors.New("unsupported driver")
	// ErrNotDisposable is returned when asked to drop a database whose name
	// does not carry the disposable prefix.
	ErrNotDisposable = errors.New("not a disposable test database")
)

// ConfigError reports a configuration problem: a missing environment value,
// an unknown driver, or a project root that could not be found.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// QueryError reports a failure from the database engine, along with the
// operation that was running and the database it was running against.
type QueryError struct {
	Op       string
	Database string
	Err      error
}

func (e *QueryError) Error() string {
	if e.Database == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("%s(%s): %s", e.Op, e.Database, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// MigrationError wraps any error encountered while applying migrations, so
// that a broken migration file is distinguishable from a failure to list or
// create databases. File is empty when the failure happened before any file
// was executed.
type MigrationError struct {
	Database string
	File     string
	Err      error
}

func (e *MigrationError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("migrate %s: %s", e.Database, e.Err)
	}
	return fmt.Sprintf("migrate %s (%s): %s", e.Database, e.File, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// TeardownError is returned when the bound database could not be determined
// or dropped. It is never the result of the test body itself failing.
type TeardownError struct {
	Database string
	Err      error
}

func (e *TeardownError) Error() string {
	if e.Database == "" {
		return fmt.Sprintf("cleanup failed: %s", e.Err)
	}
	return fmt.Sprintf("cleanup of %s failed: %s", e.Database, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}
