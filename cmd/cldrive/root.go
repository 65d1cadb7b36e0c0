package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/notargets/cldrive/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Backend string
	Device  string

	// Config is loaded before any subcommand runs
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cldrive CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cldrive",
		Short: "Run an OpenCL kernel in an isolated, time-bounded worker",
		Long: `cldrive compiles and runs a single OpenCL kernel on a device, feeding it
host arrays and printing the arrays after the kernel has run. The kernel runs
in a separate worker process which is killed if it exceeds its timeout.

Defaults come from CLDRIVE_* environment variables (or a .env file).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return usagef("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load()
			if err != nil {
				return usagef("invalid configuration: %v", err)
			}
			if cmd.Flags().Changed("backend") {
				cfg.Backend = opts.Backend
			}
			if cmd.Flags().Changed("device") {
				cfg.Device = opts.Device
			}
			if opts.Verbose {
				cfg.Verbose = true
			}
			opts.Config = cfg
			opts.Logger = newLogger(cmd, cfg.Verbose)
			slog.SetDefault(opts.Logger)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "occa", "device backend (overrides CLDRIVE_BACKEND)")
	cmd.PersistentFlags().StringVar(&opts.Device, "device", "", "backend device properties (overrides CLDRIVE_DEVICE)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewArgsCommand(opts))

	return cmd
}

func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
