package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"metabench/internal/benchmark"
	"metabench/internal/config"
	"metabench/internal/telemetry"
)

// Process exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitNoBenchmarks = 2
	exitInterrupted  = 130
)

var exit = os.Exit

// app carries state shared by the root command and its subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "metabench",
		Short: "Run Google Benchmark binaries until every case is statistically stable",
		Long: `metabench repeatedly invokes a Google Benchmark executable, collects one
sample per case per repetition, and re-runs only the cases whose 95%
confidence interval is still wider than the target. It stops when every
case is stable or the repetition budget is spent.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ./metabench.yaml)")
	pf.BoolP("verbose", "v", false, "Enable verbose/debug logging")
	pf.BoolP("quiet", "q", false, "Suppress info messages, only show warnings and errors")
	pf.String("log-file", "", "Also write JSON logs to this file")
	bindFlags(a.v, pf, map[string]string{
		config.KeyVerbose: "verbose",
		config.KeyQuiet:   "quiet",
		config.KeyLogFile: "log-file",
	})

	cmd.AddCommand(newRunCmd(a), newReportCmd(a), newHistoryCmd(a))
	return cmd
}

// bindFlags binds viper keys to the named flags.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			v.BindPFlag(key, f)
		}
	}
}

// init loads configuration and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	used, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := telemetry.Level(a.v.GetBool(config.KeyVerbose), a.v.GetBool(config.KeyQuiet))
	a.logger = telemetry.NewLogger(cmd.ErrOrStderr(), level, a.v.GetString(config.KeyLogFile))
	slog.SetDefault(a.logger)

	if used != "" {
		a.logger.Debug("Using config file", "path", used)
	}
	return nil
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, benchmark.ErrNoBenchmarks):
		return exitNoBenchmarks
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitError
	}
}

// Execute runs the root command and exits with the mapped status.
// This is called by main.main().
func Execute() {
	err := newRootCmd().Execute()
	code := exitCode(err)
	if err != nil && code != exitInterrupted {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	exit(code)
}
