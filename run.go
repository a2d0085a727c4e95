package testdb

import (
	"context"
	"fmt"
	"runtime/debug"
	"testing"
)

// Lifecycle provisions and removes the database for one test invocation.
// [*Controller] is the implementation used outside of tests.
type Lifecycle interface {
	Setup(ctx context.Context, testName string) (*Client, error)
	Teardown(ctx context.Context, client *Client) error
}

// Outcome is the result of running a test body.
type Outcome struct {
	// Err is the error returned by the body.
	Err error
	// Panic is the recovered panic value, and Stack is where it happened.
	Panic any
	Stack []byte
	// Aborted is set when the body stopped through runtime.Goexit, which is
	// what t.FailNow, t.Fatal and t.SkipNow do.
	Aborted bool
}

// Failed reports whether the body did not run to completion successfully.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.Panic != nil || o.Aborted
}

func (o Outcome) String() string {
	switch {
	case o.Panic != nil:
		return fmt.Sprintf("panic: %v", o.Panic)
	case o.Err != nil:
		return fmt.Sprintf("error: %s", o.Err)
	case o.Aborted:
		return "aborted"
	default:
		return "ok"
	}
}

// Run sets up a fresh database for the current test, passes a client bound to
// it to `body`, and drops the database afterwards if the test passed. If the
// test failed, the database is left on the server so you can look at it, and
// the original failure is reported unchanged.
//
//	func TestOrders(t *testing.T) {
//		testdb.Run(t, testdb.Default(t), func(db *testdb.Client) {
//			// ...
//		})
//	}
func Run(tb testing.TB, lc Lifecycle, body func(*Client)) {
	tb.Helper()
	RunE(tb, lc, func(client *Client) error {
		body(client)
		return nil
	})
}

// RunE is [Run] for bodies that return an error. A non-nil error fails the
// test and, like any other failure, keeps the database around.
func RunE(tb testing.TB, lc Lifecycle, body func(*Client) error) {
	tb.Helper()
	ctx := context.Background()
	name := tb.Name()

	client, err := lc.Setup(ctx, name)
	if err != nil {
		tb.Fatalf("failed to setup test %q client: %s", name, err)
		return // unreachable
	}

	var outcome Outcome
	completed := false
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{Panic: r, Stack: debug.Stack()}
		} else if !completed {
			outcome = Outcome{Aborted: true}
		}
		finish(ctx, tb, lc, name, client, outcome)
	}()
	outcome = Outcome{Err: body(client)}
	completed = true
}

func finish(ctx context.Context, tb testing.TB, lc Lifecycle, name string, client *Client, outcome Outcome) {
	tb.Helper()
	// A skipped test also leaves through Goexit, but has not failed.
	skipped := outcome.Aborted && tb.Skipped() && !tb.Failed()
	if !skipped && (outcome.Failed() || tb.Failed()) {
		// Skip teardown so the database can be inspected.
		tb.Logf("test %q failed (%s), keeping database %s", name, outcome, client.Database())
		_ = client.Close()
		switch {
		case outcome.Panic != nil:
			tb.Logf("test %q panicked: %v\n%s", name, outcome.Panic, outcome.Stack)
			panic(outcome.Panic)
		case outcome.Err != nil:
			tb.Errorf("test %q failed: %s", name, outcome.Err)
		}
		return
	}
	if err := lc.Teardown(ctx, client); err != nil {
		if outcome.Aborted {
			// already unwinding through Goexit
			tb.Errorf("failed to cleanup test %q data: %s", name, err)
			return
		}
		tb.Fatalf("failed to cleanup test %q data: %s", name, err)
	}
}

// Default returns a [Controller] configured from the environment (see
// [ConfigFromEnv]) that replays the migrations in MIGRATIONS_DIR and logs
// through `tb`. Any configuration error fails the test immediately.
func Default(tb testing.TB) *Controller {
	tb.Helper()
	conf, err := ConfigFromEnv()
	if err != nil {
		tb.Fatalf("failed to load testdb config: %s", err)
		return nil // unreachable
	}
	c, err := New(conf, NewDirMigrator(conf.MigrationsDir), WithLogger(NewTestLogger(tb)))
	if err != nil {
		tb.Fatalf("failed to create testdb controller: %s", err)
		return nil // unreachable
	}
	return c
}
