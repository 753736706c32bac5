package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ledger-matching-service/cmd/reconciler/config"
	"ledger-matching-service/internal/reconciler"
	"ledger-matching-service/internal/reporter"
	"ledger-matching-service/internal/storage"
	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	configErr error
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Billing and payment ledger matching tool",
	Long: `Reconciler stores bills and bank payments in a SQLite ledger and matches
them by normalized customer name: one bill to one payment, several bills to
one payment, or one bill to several payments.

A strict pass requires exact totals. A loose pass accepts a fixed difference
and is usually run on the residue the strict pass left behind.

Examples:
  reconciler import --bills bills.csv --payments payments.csv
  reconciler match strict --residue-out residue.yaml
  reconciler match loose --residue-in residue.yaml
  reconciler results --format csv --output report.csv
  reconciler serve --port 8080`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	return NewCLIErrorHandler(rootCmd.ErrOrStderr(), viper.GetBool(config.KeyVerbose)).HandleError(err)
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.String("database", "ledger.db", "path to the SQLite ledger")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("log-file", "", "append logs to this file instead of stderr")
	flags.StringP("format", "f", "console", "output format: console, json, csv")
	flags.StringP("output", "o", "", "output file path (default: stdout)")

	viper.BindPFlag(config.KeyVerbose, flags.Lookup("verbose"))
	viper.BindPFlag(config.KeyDatabase, flags.Lookup("database"))
	viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	viper.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	viper.BindPFlag(config.KeyLogFile, flags.Lookup("log-file"))
	viper.BindPFlag(config.KeyOutputFormat, flags.Lookup("format"))
	viper.BindPFlag(config.KeyOutputFile, flags.Lookup("output"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	configErr = nil
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			configErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check the config file path and syntax")
		}
	}

	// RECONCILER_LOOSE_TOLERANCE overrides loose.tolerance.
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}

	logConfig, err := config.CreateLoggerConfig(viper.GetViper())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", nil, err)
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", nil, err)
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("config", viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// openStore opens the configured ledger database.
func openStore(ctx context.Context) (*storage.Store, error) {
	return storage.Open(ctx, viper.GetString(config.KeyDatabase), logger.GetGlobalLogger())
}

func newService(store reconciler.Store) (*reconciler.Service, error) {
	serviceConfig, err := config.CreateReconcilerConfig(viper.GetViper())
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", nil, err).
			WithSuggestion("Check the strict and loose tolerance and max-combination settings")
	}
	return reconciler.NewService(store, serviceConfig, logger.GetGlobalLogger())
}

func newReportGenerator() (*reporter.SafeReportGenerator, error) {
	reportConfig, err := config.CreateReportConfig(viper.GetViper())
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", viper.GetString(config.KeyOutputFormat), err)
	}
	return reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
}

// openOutput returns the configured output file, or the command's stdout.
func openOutput(cmd *cobra.Command) (io.Writer, func() error, error) {
	path := viper.GetString(config.KeyOutputFile)
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeDirectoryError, dir, err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return file, file.Close, nil
}

// writeReport renders one view to the configured output.
func writeReport(cmd *cobra.Command, view string, render reporter.RenderFunc) error {
	rg, err := newReportGenerator()
	if err != nil {
		return err
	}

	w, closeOutput, err := openOutput(cmd)
	if err != nil {
		return err
	}
	if err := rg.Render(view, w, render); err != nil {
		closeOutput()
		return errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeFilePermission, "write report")
	}
	if err := closeOutput(); err != nil {
		return errors.FileError(errors.CodeFilePermission, viper.GetString(config.KeyOutputFile), err)
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
