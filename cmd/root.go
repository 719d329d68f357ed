package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
	"github.com/lamallamadel/brainego-sub004/internal/config"
	"github.com/lamallamadel/brainego-sub004/internal/logging"
)

var cfgFile string

// CLI flag variables
var (
	verbose   bool
	quiet     bool
	logFormat string
	logFile   string
	noColor   bool
)

// exitCode is set by commands that complete without a hard error but
// still need to signal partial failure, such as a cycle where one
// store failed.
var exitCode int

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "brainego-backup",
	Short: "Backup and disaster recovery for the vector, graph and relational stores",
	Long: `brainego-backup snapshots the vector, graph and relational stores on a
schedule, uploads checksummed artifacts to object storage, tracks every
backup in a durable catalog, and restores any store from its latest
verified backup.

Exit codes:
  0  success (all requested operations verified)
  1  one or more operations failed
  2  usage or configuration error

Examples:
  # One immediate backup cycle across all configured stores
  brainego-backup backup --once --config=backup.yaml

  # Run the cron scheduler in the foreground
  brainego-backup backup --config=backup.yaml

  # Restore the graph store from its latest verified backup
  brainego-backup restore --type=graph --config=backup.yaml

  # Inspect the catalog
  brainego-backup list --type=relational --format=json --config=backup.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and maps its outcome onto the process
// exit code contract: 0 success, 1 operation failure, 2 usage error.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return exitCode
}

// exitCodeForError distinguishes usage and configuration mistakes from
// operational failures.
func exitCodeForError(err error) int {
	var drErr *backup.DRError
	if errors.As(err, &drErr) && drErr.Type == backup.ErrTypeConfiguration {
		return 2
	}

	msg := err.Error()
	usageMarkers := []string{
		"unknown flag",
		"unknown shorthand flag",
		"unknown command",
		"invalid argument",
		"required flag",
		"accepts at most",
		"configuration validation failed",
	}
	for _, marker := range usageMarkers {
		if strings.Contains(msg, marker) {
			return 2
		}
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./brainego-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file in addition to stdout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	rootCmd.AddCommand(createVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/brainego-backup")
		viper.SetConfigType("yaml")
		viper.SetConfigName("brainego-backup")
	}

	viper.SetEnvPrefix("BRAINEGO_BACKUP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig unmarshals the merged viper state into the typed
// configuration. Defaults, environment secrets and validation are
// applied later by the application wiring.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, backup.NewConfigurationError("failed to parse configuration", err)
	}
	return cfg, nil
}

// newLogger builds the logger from the global flags.
func newLogger() (*logging.Logger, error) {
	if verbose && quiet {
		return nil, backup.NewConfigurationError("--verbose and --quiet flags are mutually exclusive", nil)
	}

	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Format:  logFormat,
		LogFile: logFile,
	})
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("brainego-backup version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
		},
	}
}
