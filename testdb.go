package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/peterldowns/testdb/internal/keylock"
)

// setupLocks serializes list-name-create for the same test identifier within
// this process, across every Controller.
var setupLocks keylock.Map //nolint:gochecknoglobals

// Client is a connection handle bound to one database for the lifetime of a
// single test invocation. It must not be shared between invocations.
type Client struct {
	*sql.DB
	conf Config
}

// Config returns the config the client was built from.
func (c *Client) Config() Config {
	return c.conf
}

// Database returns the name of the database the client was bound to when it
// was built. Use [Engine.CurrentDatabase] to ask the server.
func (c *Client) Database() string {
	return c.conf.Database
}

// WithDatabase returns a new client, with the same connection settings, bound
// to another database. The receiver is left open.
func (c *Client) WithDatabase(name string) (*Client, error) {
	conf := c.conf.WithDatabase(name)
	db, err := conf.Connect()
	if err != nil {
		return nil, &QueryError{Op: "connect", Database: name, Err: err}
	}
	return &Client{DB: db, conf: conf}, nil
}

// Close closes the underlying handle. It is safe to call on a nil client.
func (c *Client) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger used to report created and dropped databases.
// You probably want [NewTestLogger].
//
// Default: discards everything.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithEngine overrides the [Engine] picked from [Config.DriverName].
func WithEngine(engine Engine) Option {
	return func(c *Controller) {
		c.engine = engine
	}
}

// WithScope qualifies every test identifier, so that tests with the same name
// in different packages or modules get separate database lineages.
func WithScope(scope string) Option {
	return func(c *Controller) {
		c.scope = scope
	}
}

// Controller creates, migrates, and drops disposable test databases on the
// server described by its [Config]. It holds no per-test state and is safe
// for concurrent use.
type Controller struct {
	conf     Config
	migrator Migrator
	engine   Engine
	scope    string
	logger   *log.Logger
}

// New returns a [Controller]. A nil migrator leaves test databases empty.
func New(conf Config, migrator Migrator, opts ...Option) (*Controller, error) {
	c := &Controller{
		conf:     conf,
		migrator: migrator,
		logger:   discardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.migrator == nil {
		c.migrator = NoopMigrator{}
	}
	if c.engine == nil {
		engine, err := EngineFor(conf.DriverName)
		if err != nil {
			return nil, err
		}
		c.engine = engine
	}
	return c, nil
}

// Config returns the admin config that the controller connects with.
func (c *Controller) Config() Config {
	return c.conf
}

// Identifier returns the test identifier used for `testName`.
func (c *Controller) Identifier(testName string) string {
	return Identifier(c.scope, testName)
}

// Setup creates the next disposable database for `testName`, applies the
// migrations to it, and returns a client bound to it.
//
// If any step fails, nothing is cleaned up: a database that was already
// created is left on the server so that it can be inspected.
func (c *Controller) Setup(ctx context.Context, testName string) (*Client, error) {
	id := c.Identifier(testName)

	var name string
	err := c.withAdmin(func(admin *sql.DB) error {
		return c.withSetupLock(ctx, admin, id, func() error {
			existing, err := c.engine.ListDatabases(ctx, admin)
			if err != nil {
				return &QueryError{Op: "list databases", Database: c.conf.Database, Err: err}
			}
			name = NextName(existing, id)
			if err := c.engine.CreateDatabase(ctx, admin, name); err != nil {
				return &QueryError{Op: "create database", Database: name, Err: err}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("created database", "test", testName, "database", name)

	conf := c.conf.WithDatabase(name)
	db, err := conf.Connect()
	if err != nil {
		return nil, &QueryError{Op: "connect", Database: name, Err: err}
	}
	if err := c.migrator.Migrate(ctx, db, conf); err != nil {
		_ = db.Close()
		var migrationErr *MigrationError
		if !errors.As(err, &migrationErr) {
			err = &MigrationError{Database: name, Err: err}
		}
		return nil, err
	}
	c.logger.Debug("migrated database", "database", name)
	return &Client{DB: db, conf: conf}, nil
}

// Teardown asks the server which database `client` is bound to, closes the
// client, and drops that database. The name the client was built with is not
// trusted. Every failure is a [TeardownError].
func (c *Controller) Teardown(ctx context.Context, client *Client) error {
	current, err := c.engine.CurrentDatabase(ctx, client.DB)
	if err != nil {
		_ = client.Close()
		return &TeardownError{
			Database: client.Database(),
			Err:      &QueryError{Op: "current database", Database: client.Database(), Err: err},
		}
	}
	if err := client.Close(); err != nil {
		return &TeardownError{Database: current.Name, Err: err}
	}
	// the bound database is dropped unconditionally, unlike [Controller.Drop]
	if err := c.drop(ctx, current.Name); err != nil {
		return &TeardownError{Database: current.Name, Err: err}
	}
	return nil
}

// Next returns the name the next [Controller.Setup] for `testName` would use,
// without creating anything.
func (c *Controller) Next(ctx context.Context, testName string) (string, error) {
	var name string
	err := c.withAdmin(func(admin *sql.DB) error {
		existing, err := c.engine.ListDatabases(ctx, admin)
		if err != nil {
			return &QueryError{Op: "list databases", Database: c.conf.Database, Err: err}
		}
		name = NextName(existing, c.Identifier(testName))
		return nil
	})
	return name, err
}

// List returns the disposable databases currently on the server. When
// `testName` is not empty, only the versions belonging to that test are
// returned, oldest first. Otherwise a controller created [WithScope] only
// returns the databases of tests in its scope.
func (c *Controller) List(ctx context.Context, testName string) ([]Database, error) {
	var matches []Database
	err := c.withAdmin(func(admin *sql.DB) error {
		existing, err := c.engine.ListDatabases(ctx, admin)
		if err != nil {
			return &QueryError{Op: "list databases", Database: c.conf.Database, Err: err}
		}
		if testName == "" && c.scope != "" {
			existing = withPrefix(existing, Prefix(Identifier(c.scope)))
		}
		matches = filterDisposable(existing, c.identifierOrEmpty(testName))
		return nil
	})
	return matches, err
}

// Drop drops a disposable database by name. Names without the
// [DisposablePrefix] are refused with [ErrNotDisposable].
func (c *Controller) Drop(ctx context.Context, name string) error {
	if !IsDisposable(name) {
		return fmt.Errorf("%w: %s", ErrNotDisposable, name)
	}
	return c.drop(ctx, name)
}

func (c *Controller) drop(ctx context.Context, name string) error {
	err := c.withAdmin(func(admin *sql.DB) error {
		if err := c.engine.DropDatabase(ctx, admin, name); err != nil {
			return &QueryError{Op: "drop database", Database: name, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("dropped database", "database", name)
	return nil
}

// Prune drops the disposable databases returned by [Controller.List], such as
// those left behind by failed tests. It keeps going after a failed drop and
// returns the names that were dropped along with every error.
func (c *Controller) Prune(ctx context.Context, testName string) ([]string, error) {
	databases, err := c.List(ctx, testName)
	if err != nil {
		return nil, err
	}
	var dropped []string
	var final error
	for _, db := range databases {
		if err := c.Drop(ctx, db.Name); err != nil {
			final = multierr.Append(final, err)
			continue
		}
		dropped = append(dropped, db.Name)
	}
	return dropped, final
}

func (c *Controller) identifierOrEmpty(testName string) string {
	if testName == "" {
		return ""
	}
	return c.Identifier(testName)
}

func (c *Controller) withAdmin(cb func(*sql.DB) error) (final error) {
	admin, err := c.conf.Connect()
	if err != nil {
		return &QueryError{Op: "connect", Database: c.conf.Database, Err: err}
	}
	defer func() {
		if err := admin.Close(); err != nil {
			final = multierr.Append(final, fmt.Errorf("failed to close admin connection: %w", err))
		}
	}()
	return cb(admin)
}

func (c *Controller) withSetupLock(ctx context.Context, admin *sql.DB, id string, cb func() error) error {
	return setupLocks.With(c.conf.URL+"#"+id, func() error {
		locker, ok := c.engine.(Locker)
		if !ok {
			return cb()
		}
		return locker.WithLock(ctx, admin, "setup-"+id, cb)
	})
}

func withPrefix(existing []Database, prefix string) []Database {
	var matches []Database
	for _, db := range existing {
		if strings.HasPrefix(db.Name, prefix) {
			matches = append(matches, db)
		}
	}
	return matches
}

// filterDisposable keeps the disposable databases, or when `id` is set, the
// versions of that identifier ordered by version.
func filterDisposable(existing []Database, id string) []Database {
	var matches []Database
	for _, db := range existing {
		if id == "" && IsDisposable(db.Name) {
			matches = append(matches, db)
			continue
		}
		if _, ok := Version(db.Name, id); id != "" && ok {
			matches = append(matches, db)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if id == "" {
			return matches[i].Name < matches[j].Name
		}
		vi, _ := Version(matches[i].Name, id)
		vj, _ := Version(matches[j].Name, id)
		return vi < vj
	})
	return matches
}
