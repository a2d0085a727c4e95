// Package cli implements the cobra command-line interface for testdb, used to
// inspect and clean up the disposable databases that tests leave behind.
package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/peterldowns/testdb"
)

// options holds the values of the persistent flags. Driver and migrations are
// bound into viper, so they follow the usual flag > env > .env > default
// order. The connection flags override whichever driver-specific variable
// the resolved driver reads.
type options struct {
	v *viper.Viper

	url      string
	db       string
	user     string
	password string
	scope    string
	verbose  bool
}

func (o *options) register(fs *pflag.FlagSet) {
	fs.String("driver", "", "database driver: clickhouse, pgx, postgres (env: "+testdb.EnvDriver+")")
	fs.String("migrations", "", "migrations directory, relative to the project root (env: "+testdb.EnvMigrationsDir+")")
	fs.StringVar(&o.url, "url", "", "server URL (env: CLICKHOUSE_URL or POSTGRES_URL)")
	fs.StringVar(&o.db, "db", "", "admin database (env: CLICKHOUSE_DB or POSTGRES_DB)")
	fs.StringVar(&o.user, "user", "", "user name (env: CLICKHOUSE_USER or POSTGRES_USER)")
	fs.StringVar(&o.password, "password", "", "password (env: CLICKHOUSE_PASSWORD or POSTGRES_PASSWORD)")
	fs.StringVar(&o.scope, "scope", "", "scope that test identifiers are qualified with")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log debug output to stderr")
}

func (o *options) bind(fs *pflag.FlagSet) error {
	v, err := testdb.NewViper()
	if err != nil {
		return err
	}
	if err := v.BindPFlag(testdb.EnvDriver, fs.Lookup("driver")); err != nil {
		return err
	}
	if err := v.BindPFlag(testdb.EnvMigrationsDir, fs.Lookup("migrations")); err != nil {
		return err
	}
	o.v = v
	return nil
}

// config resolves the admin config from viper, then applies the connection
// flags that were set explicitly.
func (o *options) config(fs *pflag.FlagSet) (testdb.Config, error) {
	conf, err := testdb.ConfigFromViper(o.v)
	if err != nil {
		return conf, err
	}
	if fs.Changed("url") {
		conf.URL = o.url
	}
	if fs.Changed("db") {
		conf.Database = o.db
	}
	if fs.Changed("user") {
		conf.User = o.user
	}
	if fs.Changed("password") {
		conf.Password = o.password
	}
	return conf, nil
}

func (o *options) logger(cmd *cobra.Command) *log.Logger {
	level := log.InfoLevel
	if o.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Prefix: "testdb",
		Level:  level,
	})
}

// controller builds a controller from the flags. Without a migrations
// directory, databases created by the CLI are left empty.
func (o *options) controller(cmd *cobra.Command) (*testdb.Controller, error) {
	conf, err := o.config(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger := o.logger(cmd)
	logger.Debug("resolved config", "config", conf.String())

	var migrator testdb.Migrator = testdb.NoopMigrator{}
	if conf.MigrationsDir != "" {
		migrator = testdb.NewDirMigrator(conf.MigrationsDir)
	}
	return testdb.New(conf, migrator,
		testdb.WithLogger(logger),
		testdb.WithScope(o.scope),
	)
}

// NewRootCommand returns the `testdb` command with all of its subcommands.
// Every call returns a fresh tree with its own flag state.
func NewRootCommand() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "testdb",
		Short: "Manage disposable test databases",
		Long: `testdb creates, lists, and removes the disposable databases that
integration tests run against. Databases are named test_db_{test}_{version};
a failed test keeps its database so that it can be inspected, and
"testdb prune" removes them once you are done.

Connection settings come from the environment or a .env file (see
TESTDB_DRIVER, CLICKHOUSE_* and POSTGRES_*), and can be overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.bind(cmd.Flags())
		},
	}
	o.register(root.PersistentFlags())

	root.AddCommand(
		newConfigCommand(o),
		newListCommand(o),
		newNextCommand(o),
		newSetupCommand(o),
		newPruneCommand(o),
	)
	return root
}

func printLine(cmd *cobra.Command, a ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), a...)
}
