package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved connection settings (without the password)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := o.config(cmd.Flags())
			if err != nil {
				return err
			}
			printLine(cmd, conf.String())
			if conf.MigrationsDir != "" {
				printLine(cmd, "migrations="+conf.MigrationsDir)
			}
			return nil
		},
	}
}

func newListCommand(o *options) *cobra.Command {
	var testName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List disposable test databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.controller(cmd)
			if err != nil {
				return err
			}
			databases, err := c.List(cmd.Context(), testName)
			if err != nil {
				return err
			}
			for _, db := range databases {
				printLine(cmd, db.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&testName, "test", "", "only list the databases of this test")
	return cmd
}

func newNextCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "next TEST",
		Short: "Print the name the next run of TEST would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.controller(cmd)
			if err != nil {
				return err
			}
			name, err := c.Next(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printLine(cmd, name)
			return nil
		},
	}
}

func newSetupCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "setup TEST",
		Short: "Create and migrate the next database for TEST, and print its name",
		Long: `Create and migrate the next database for TEST, and print its name.
The database is not removed; use "testdb prune" when you are done with it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.controller(cmd)
			if err != nil {
				return err
			}
			client, err := c.Setup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printLine(cmd, client.Database())
			return client.Close()
		},
	}
}

func newPruneCommand(o *options) *cobra.Command {
	var testName string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop disposable test databases left behind by failed tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.controller(cmd)
			if err != nil {
				return err
			}
			if dryRun {
				databases, err := c.List(cmd.Context(), testName)
				if err != nil {
					return err
				}
				for _, db := range databases {
					printLine(cmd, "would drop", db.Name)
				}
				return nil
			}
			dropped, err := c.Prune(cmd.Context(), testName)
			for _, name := range dropped {
				printLine(cmd, "dropped", name)
			}
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&testName, "test", "", "only drop the databases of this test")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the databases that would be dropped")
	return cmd
}
