package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/sysgate"
)

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	Put      []string
	Monitor  string
	BasePath string
	History  []string
	NoBanner bool
	ExitCode bool
}

func buildRoot(ctx context.Context) *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}

	root := createRootCommand(globalFlags)
	root.SetContext(ctx)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createProgramsCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sysgate",
		Short: "Run user programs behind a simulated system call boundary",
		Long: `Sysgate boots a small machine, installs its built-in programs and runs a
command line as the first user process. Every file and console access the
program makes goes through the system call layer.

Examples:
  sysgate run -- echo hello
  sysgate run --put ./notes.txt:notes -- cat notes
  sysgate run --monitor :9090 -- run wc notes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override the configured log level")
	return root
}

func createRunCommand(global *GlobalFlags, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command line>",
		Short: "Run a command line as the first user process",
		Long: `Run boots the machine and executes the command line. The first word names
the program; the rest become its arguments.

Examples:
  sysgate run -- echo hello world
  sysgate run --put /etc/hostname:host -- cat host
  sysgate run --history sqlite:///tmp/sysgate.db -- run exit 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(global, flags)
			if err != nil {
				return err
			}
			status, err := runMachine(cmd.Context(), c, strings.Join(args, " "), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "status: %d\n", status)
			if flags.ExitCode && status != 0 {
				return exitCodeError{code: status & 0xff}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&flags.Put, "put", nil, "copy a host file into the machine as host[:name] (repeatable)")
	cmd.Flags().StringVar(&flags.Monitor, "monitor", "", "serve the monitor API on this address while running")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "monitor API base path")
	cmd.Flags().StringArrayVar(&flags.History, "history", nil, "process history DSN (repeatable)")
	cmd.Flags().BoolVar(&flags.NoBanner, "no-banner", false, "do not print exit banners")
	cmd.Flags().BoolVar(&flags.ExitCode, "exit-code", false, "exit with the program's status")
	return cmd
}

func createProgramsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "programs",
		Short: "List the built-in programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := sysgate.DefaultConfig()
			c.Log.Level = "error"
			c.Metrics.Enabled = false
			m, err := sysgate.Boot(c, nil, nil)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close(context.Background()) }()
			for _, name := range m.Programs() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(global *GlobalFlags, flags *RunFlags) (*sysgate.Config, error) {
	c, err := sysgate.LoadConfig(global.ConfigPath)
	if err != nil {
		return nil, err
	}
	if global.LogLevel != "" {
		c.Log.Level = global.LogLevel
	}
	c.FS.Put = append(c.FS.Put, flags.Put...)
	c.History.Sinks = append(c.History.Sinks, flags.History...)
	if flags.Monitor != "" {
		c.Monitor.Listen = flags.Monitor
	}
	if flags.BasePath != "" {
		c.Monitor.BasePath = flags.BasePath
	}
	if flags.NoBanner {
		c.Console.ExitBanner = false
	}
	return c, c.Validate()
}
