package testdb_test

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/testdb"
)

// These tests need no server: every case fails before a query is sent.

func TestNewPicksEngineFromDriver(t *testing.T) {
	t.Parallel()
	for _, driverName := range []string{"clickhouse", "pgx", "postgres"} {
		_, err := testdb.New(testdb.Config{DriverName: driverName}, nil)
		check.Nil(t, err)
	}
	_, err := testdb.New(testdb.Config{DriverName: "sqlite"}, nil)
	check.Equal(t, true, errors.Is(err, testdb.ErrUnsupportedDriver))
}

func TestNewWithEngineOverridesDriver(t *testing.T) {
	t.Parallel()
	_, err := testdb.New(testdb.Config{DriverName: "custom"}, nil, testdb.WithEngine(testdb.ClickHouse{}))
	check.Nil(t, err)
}

func TestControllerIdentifierUsesScope(t *testing.T) {
	t.Parallel()
	c, err := testdb.New(testdb.Config{DriverName: "clickhouse"}, nil, testdb.WithScope("billing"))
	assert.Nil(t, err)
	check.Equal(t, "billing_testorders", c.Identifier("TestOrders"))

	unscoped, err := testdb.New(testdb.Config{DriverName: "clickhouse"}, nil)
	assert.Nil(t, err)
	check.Equal(t, "testorders", unscoped.Identifier("TestOrders"))
}

func TestDropRefusesNonDisposable(t *testing.T) {
	t.Parallel()
	c, err := testdb.New(testdb.Config{DriverName: "clickhouse", URL: "http://127.0.0.1:1"}, nil)
	assert.Nil(t, err)
	for _, name := range []string{"default", "system", "analytics"} {
		err := c.Drop(context.Background(), name)
		check.Equal(t, true, errors.Is(err, testdb.ErrNotDisposable))
	}
}

func TestSetupReportsBadURL(t *testing.T) {
	t.Parallel()
	c, err := testdb.New(testdb.Config{DriverName: "clickhouse", URL: "ftp://nowhere"}, nil)
	assert.Nil(t, err)
	client, err := c.Setup(context.Background(), "orders")
	check.Equal(t, (*testdb.Client)(nil), client)
	var queryErr *testdb.QueryError
	if check.Equal(t, true, errors.As(err, &queryErr)) {
		check.Equal(t, "connect", queryErr.Op)
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()
	inner := errors.New("code: 81, database does not exist")
	check.Equal(t,
		"create database(test_db_orders_1): code: 81, database does not exist",
		(&testdb.QueryError{Op: "create database", Database: "test_db_orders_1", Err: inner}).Error(),
	)
	check.Equal(t,
		"migrate test_db_orders_1 (migrations/002_x.sql): code: 81, database does not exist",
		(&testdb.MigrationError{Database: "test_db_orders_1", File: "migrations/002_x.sql", Err: inner}).Error(),
	)
	check.Equal(t,
		"cleanup of test_db_orders_1 failed: code: 81, database does not exist",
		(&testdb.TeardownError{Database: "test_db_orders_1", Err: inner}).Error(),
	)
	check.Equal(t, true, errors.Is(&testdb.TeardownError{Err: inner}, inner))
}

// recordingEngine keeps an in-memory catalog and records every call made to
// it, and every migration run by a [recordingMigrator] sharing it.
type recordingEngine struct {
	mu        sync.Mutex
	databases []string
	current   string
	dropErr   error
	calls     []string
}

func (e *recordingEngine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *recordingEngine) ListDatabases(context.Context, *sql.DB) ([]testdb.Database, error) {
	e.record("list")
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []testdb.Database
	for _, name := range e.databases {
		out = append(out, testdb.Database{Name: name})
	}
	return out, nil
}

func (e *recordingEngine) CurrentDatabase(context.Context, *sql.DB) (testdb.Database, error) {
	e.record("current")
	return testdb.Database{Name: e.current}, nil
}

func (e *recordingEngine) CreateDatabase(_ context.Context, _ *sql.DB, name string) error {
	e.record("create " + name)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !slices.Contains(e.databases, name) {
		e.databases = append(e.databases, name)
	}
	return nil
}

func (e *recordingEngine) DropDatabase(_ context.Context, _ *sql.DB, name string) error {
	e.record("drop " + name)
	if e.dropErr != nil {
		return e.dropErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.databases = slices.DeleteFunc(e.databases, func(db string) bool { return db == name })
	return nil
}

type recordingMigrator struct {
	engine *recordingEngine
}

func (m recordingMigrator) Migrate(_ context.Context, _ *sql.DB, conf testdb.Config) error {
	m.engine.record("migrate " + conf.Database)
	return nil
}

// newRecordingController returns a controller backed by `engine`. Nothing
// listens at the configured URL; handles are built but never used.
func newRecordingController(t *testing.T, engine *recordingEngine) *testdb.Controller {
	t.Helper()
	conf := testdb.Config{DriverName: "clickhouse", URL: "http://127.0.0.1:1", Database: "default"}
	c, err := testdb.New(conf, recordingMigrator{engine}, testdb.WithEngine(engine))
	assert.Nil(t, err)
	return c
}

func TestSetupThenTeardownSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := &recordingEngine{databases: []string{"default", "test_db_orders_x"}}
	c := newRecordingController(t, engine)

	client, err := c.Setup(ctx, "orders")
	assert.Nil(t, err)
	check.Equal(t, "test_db_orders_1", client.Database())
	check.Equal(t, []string{
		"list",
		"create test_db_orders_1",
		"migrate test_db_orders_1",
	}, engine.calls)

	engine.current = client.Database()
	assert.Nil(t, c.Teardown(ctx, client))
	check.Equal(t, []string{"current", "drop test_db_orders_1"}, engine.calls[3:])
	check.Equal(t, []string{"default", "test_db_orders_x"}, engine.databases)
}

func TestSetupAfterKeptDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := &recordingEngine{databases: []string{"test_db_orders_1", "test_db_users_4"}}
	c := newRecordingController(t, engine)

	client, err := c.Setup(ctx, "orders")
	assert.Nil(t, err)
	check.Equal(t, "test_db_orders_2", client.Database())
	check.Equal(t, []string{"test_db_orders_1", "test_db_users_4", "test_db_orders_2"}, engine.databases)
	assert.Nil(t, client.Close())
}

func TestTeardownDropsTheCurrentDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := &recordingEngine{databases: []string{"test_db_orders_1", "test_db_orders_2"}}
	c := newRecordingController(t, engine)

	// built for _1, but the server says it is bound to _2
	engine.current = "test_db_orders_2"
	client := &testdb.Client{}
	assert.Nil(t, c.Teardown(ctx, client))
	check.Equal(t, []string{"current", "drop test_db_orders_2"}, engine.calls)
	check.Equal(t, []string{"test_db_orders_1"}, engine.databases)
}

func TestTeardownDropsNonDisposableBinding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine := &recordingEngine{databases: []string{"scratch"}, current: "scratch"}
	c := newRecordingController(t, engine)

	assert.Nil(t, c.Teardown(ctx, &testdb.Client{}))
	check.Equal(t, []string{"current", "drop scratch"}, engine.calls)
	check.Equal(t, 0, len(engine.databases))

	// Drop, unlike Teardown, only accepts disposable names
	engine.databases = []string{"scratch"}
	err := c.Drop(ctx, "scratch")
	check.Equal(t, true, errors.Is(err, testdb.ErrNotDisposable))
	check.Equal(t, []string{"scratch"}, engine.databases)
}

func TestTeardownReportsDropFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dropErr := errors.New("code: 81, database is locked")
	engine := &recordingEngine{current: "test_db_orders_1", dropErr: dropErr}
	c := newRecordingController(t, engine)

	err := c.Teardown(ctx, &testdb.Client{})
	check.Equal(t, true, errors.Is(err, dropErr))
	var teardownErr *testdb.TeardownError
	if check.Equal(t, true, errors.As(err, &teardownErr)) {
		check.Equal(t, "test_db_orders_1", teardownErr.Database)
	}
}
