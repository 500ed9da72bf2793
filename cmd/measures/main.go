package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	updateFlags := &UpdateFlags{}
	serveFlags := &ServeFlags{}

	measuresCommand := &command{global: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)

	root.AddCommand(
		createUpdateCommand(measuresCommand, updateFlags),
		createAvailableCommand(measuresCommand),
		createStatusCommand(measuresCommand),
		createLockCommand(measuresCommand),
		createServeCommand(measuresCommand, serveFlags),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "measures",
		Short: "Install and update measures reference data",
		Long: `Measures keeps a local copy of the measures reference data up to date.
The data lives in one managed directory; concurrent updaters on the same
directory are serialized through a lock file.

Examples:
  measures update                                   # Update to the latest version
  measures update --version=WSRT_Measures_20240301-160001.ztar
  measures status
  measures serve --config=measures.toml             # Start daemon
  measures status --api-url=http://remote:8080/api  # Remote status`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.NoColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Minute, "remote request timeout")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print JSON instead of text")
	root.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable colored output")

	return root
}

// createUpdateCommand creates the update subcommand
func createUpdateCommand(measuresCommand *command, updateFlags *UpdateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Install or update measures data",
		Long: `Install or update the measures data in the managed directory.

Without --version the latest version is installed, unless the data was
installed or checked during the last day. A directory whose readme is missing
or was not written by measures is only replaced with --force.

Examples:
  measures update
  measures update --path=/opt/casa/data --include-observatories
  measures update --version=WSRT_Measures_20240101-160001.ztar --force
  measures update --auto                            # Unattended mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *updateFlags
			f.IncludeObservatoriesSet = cmd.Flags().Changed("include-observatories")
			return measuresCommand.Update(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&updateFlags.Path, "path", "", "managed directory (overrides config)")
	cmd.Flags().StringVar(&updateFlags.Version, "version", "", "version to install (default: latest)")
	cmd.Flags().BoolVar(&updateFlags.Force, "force", false, "update even when the data is recent or not managed by measures")
	cmd.Flags().BoolVar(&updateFlags.Auto, "auto", false, "unattended mode: only update an existing install owned by this user")
	cmd.Flags().BoolVar(&updateFlags.IncludeObservatories, "include-observatories", false, "also install the Observatories table from the archive")
	cmd.MarkFlagsMutuallyExclusive("auto", "force")
	cmd.MarkFlagsMutuallyExclusive("auto", "version")

	return cmd
}

// createAvailableCommand creates the available subcommand
func createAvailableCommand(measuresCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List versions offered by the remote catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return measuresCommand.Available(cmd.Context())
		},
	}
}

// createStatusCommand creates the status subcommand
func createStatusCommand(measuresCommand *command) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the installed version and lock state",
		Long: `Show the readme classification, installed version and lock state of the
managed directory. Nothing is modified.

Examples:
  measures status
  measures status --path=/opt/casa/data
  measures status --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return measuresCommand.Status(cmd.Context(), path)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "managed directory (overrides config)")
	return cmd
}

// createLockCommand creates the lock command with subcommands
func createLockCommand(measuresCommand *command) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or reset the data lock",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "managed directory (overrides config)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show who holds or last held the data lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return measuresCommand.LockShow(cmd.Context(), path)
		},
	}
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Clear a dirty data lock after checking the data",
		Long: `A failed update leaves the data lock non-empty and every later update
refuses to run. Check the data (or reinstall it with --force after the reset)
and then clear the lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return measuresCommand.LockReset(cmd.Context(), path)
		},
	}
	cmd.AddCommand(show, reset)
	return cmd
}

// createServeCommand creates the serve subcommand
func createServeCommand(measuresCommand *command, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the measures daemon",
		Long: `Start the HTTP API for the managed directory and, when [schedule] is
enabled, run unattended updates on its cron spec.

Examples:
  measures serve                     # Defaults plus MEASURES_* environment
  measures serve measures.toml       # Start with specific config file
  measures serve --listen=127.0.0.1:9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := *serveFlags
			if len(args) > 0 {
				f.ConfigPath = args[0]
			}
			return measuresCommand.Serve(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "API listen address (overrides [server].listen)")
	cmd.Flags().BoolVar(&serveFlags.NoSchedule, "no-schedule", false, "do not run scheduled updates")
	return cmd
}
