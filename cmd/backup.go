package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamallamadel/brainego-sub004/internal/application"
	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

var backupOnce bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run backup cycles across the configured stores",
	Long: `Run a backup cycle: snapshot every configured store, upload the
artifacts to object storage with checksum verification, record the
outcome in the catalog, and prune backups past retention.

Without --once the command runs the cron scheduler in the foreground
until interrupted. With --once it runs a single cycle immediately and
exits 0 only when every store's backup verified.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupOnce, "once", false, "run a single cycle immediately instead of the scheduler")
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if backupOnce {
		return runSingleCycle(ctx, app)
	}

	scheduler, err := backup.NewScheduler(cfg.Schedule.Cron, backup.RealClock{}, app.Orchestrator, logger)
	if err != nil {
		return err
	}

	logger.Infof("Scheduler started with expression %q, next cycle at %s",
		cfg.Schedule.Cron, scheduler.NextFire(time.Now()).Format("2006-01-02 15:04:05 MST"))

	if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Scheduler stopped")
	return nil
}

// runSingleCycle runs one cycle and maps the result onto the exit code:
// 0 only when every store verified.
func runSingleCycle(ctx context.Context, app *application.Application) error {
	result := app.Orchestrator.RunCycle(ctx)
	app.Logger.Infof("Backup cycle finished: %s", result.Summary())

	if !result.AllVerified() {
		exitCode = 1
	}
	return nil
}
