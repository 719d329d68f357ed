package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lamallamadel/brainego-sub004/internal/application"
	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

var (
	restoreTypes    []string
	restoreBackupID string
	validateOnly    bool
	restoreYes      bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore stores from verified backups",
	Long: `Restore one or more stores from their latest verified backup, or from
an explicit backup with --backup-id. Restoring overwrites the live
store; the command asks for confirmation on a terminal and waits a
grace period otherwise, unless --yes is given.

Multiple stores restore sequentially in the order relational, graph,
vector. A failed restore stops the sequence and leaves the store for
manual inspection; it is never retried automatically.

With --validate-only no store is modified: only the integrity checks
run against the current live stores.

Examples:
  brainego-backup restore --type=graph
  brainego-backup restore --type=relational --backup-id=relational_20260815T020000Z
  brainego-backup restore --type=relational --type=graph --type=vector --yes
  brainego-backup restore --type=vector --validate-only`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringSliceVar(&restoreTypes, "type", nil, "store type to restore (repeatable)")
	restoreCmd.Flags().StringVar(&restoreBackupID, "backup-id", "", "restore from an explicit backup instead of the latest verified one")
	restoreCmd.Flags().BoolVar(&validateOnly, "validate-only", false, "run integrity checks only, without restoring")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "skip the confirmation prompt and grace delay")
	restoreCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	storeTypes, err := parseStoreTypes(restoreTypes)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	req := backup.RestoreRequest{
		StoreTypes:   storeTypes,
		BackupID:     restoreBackupID,
		ValidateOnly: validateOnly,
	}

	if !validateOnly && !restoreYes {
		if err := confirmRestore(ctx, app, storeTypes); err != nil {
			return err
		}
	}

	result, err := app.Restorer.Restore(ctx, req)
	if result != nil {
		reportRestoreResult(result)
	}
	if err != nil {
		return err
	}

	exitCode = restoreExitCode(result)
	return nil
}

// restoreExitCode maps a completed invocation to the process exit code.
// A failed validation is nonzero even after a successful restore: the
// restore is not rolled back, but operators must not read the run as
// clean.
func restoreExitCode(result *backup.RestoreResult) int {
	if !result.ValidationPassed() {
		return 1
	}
	return 0
}

func parseStoreTypes(names []string) ([]backup.StoreType, error) {
	storeTypes := make([]backup.StoreType, 0, len(names))
	for _, name := range names {
		storeType, err := backup.ParseStoreType(name)
		if err != nil {
			return nil, err
		}
		storeTypes = append(storeTypes, storeType)
	}
	return storeTypes, nil
}

// confirmRestore guards the destructive overwrite. On a terminal it
// requires a typed confirmation; otherwise it waits the configured
// grace delay so an operator can still abort a scripted invocation.
func confirmRestore(ctx context.Context, app *application.Application, storeTypes []backup.StoreType) error {
	names := make([]string, len(storeTypes))
	for i, storeType := range storeTypes {
		names[i] = string(storeType)
	}
	target := strings.Join(names, ", ")

	if isatty.IsTerminal(os.Stdin.Fd()) {
		color.New(color.FgYellow, color.Bold).Printf(
			"WARNING: restoring will OVERWRITE the live %s store(s).\n", target)
		fmt.Print("Type 'restore' to continue: ")

		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			return backup.NewConfigurationError("failed to read confirmation", err)
		}
		if strings.TrimSpace(answer) != "restore" {
			return backup.NewDRError(backup.ErrTypeValidation, "restore aborted by operator", nil)
		}
		return nil
	}

	delay := app.Config.Restore.GraceDelay
	app.Logger.Warnf("Non-interactive restore of %s store(s) starting in %s, interrupt to abort", target, delay)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reportRestoreResult prints the per-store outcomes and any validation
// findings.
func reportRestoreResult(result *backup.RestoreResult) {
	for _, event := range result.Events {
		duration := event.CompletedAt.Sub(event.StartedAt).Round(time.Second)
		switch event.Outcome {
		case backup.RestoreOutcomeSucceeded:
			fmt.Printf("%s: restored %s from %s in %s\n",
				colorizeOutcome(event.Outcome), event.StoreType, event.BackupID, duration)
		default:
			fmt.Printf("%s: %s restore from %s: %s\n",
				colorizeOutcome(event.Outcome), event.StoreType, event.BackupID, event.ErrorMessage)
		}
	}

	for storeType, report := range result.Reports {
		if report == nil {
			continue
		}
		if report.Passed() {
			fmt.Printf("validation: %s store passed %d check(s)\n", storeType, len(report.Checks))
			continue
		}
		for _, check := range report.FailedChecks() {
			fmt.Printf("validation: %s store check %s FAILED: %s\n", storeType, check.Name, check.Detail)
		}
	}
}
