package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lamallamadel/brainego-sub004/internal/application"
	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

var (
	listStoreType string
	listStatus    string
	listFormat    string
	listLimit     int
	listEvents    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog backup records",
	Long: `List backup records from the catalog, newest first. Filter by store
type and status, or show the restore event history with --events.

Examples:
  brainego-backup list
  brainego-backup list --type=vector --limit=10
  brainego-backup list --status=failed --format=json
  brainego-backup list --events`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listStoreType, "type", "", "filter by store type (vector, graph, relational)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, uploading, verified, failed, purged)")
	listCmd.Flags().StringVar(&listFormat, "format", "table", "output format (table, json, yaml)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum records to show")
	listCmd.Flags().BoolVar(&listEvents, "events", false, "list restore events instead of backup records")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	filter, err := buildListFilter()
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

	if listEvents {
		events, err := app.Catalog.ListRestoreEvents(ctx, listLimit)
		if err != nil {
			return err
		}
		return renderRestoreEvents(events)
	}

	records, err := app.Catalog.ListByType(ctx, filter)
	if err != nil {
		return err
	}
	return renderBackupRecords(records)
}

func buildListFilter() (backup.BackupFilter, error) {
	filter := backup.BackupFilter{Limit: listLimit}

	if listStoreType != "" {
		storeType, err := backup.ParseStoreType(listStoreType)
		if err != nil {
			return filter, err
		}
		filter.StoreType = storeType
	}
	if listStatus != "" {
		status := backup.BackupStatus(listStatus)
		switch status {
		case backup.BackupStatusPending, backup.BackupStatusUploading,
			backup.BackupStatusVerified, backup.BackupStatusFailed, backup.BackupStatusPurged:
			filter.Status = status
		default:
			return filter, backup.NewConfigurationError(fmt.Sprintf("unknown status: %q", listStatus), nil)
		}
	}

	switch listFormat {
	case "table", "json", "yaml":
	default:
		return filter, backup.NewConfigurationError(fmt.Sprintf("unknown output format: %q", listFormat), nil)
	}

	return filter, nil
}

func renderBackupRecords(records []*backup.BackupRecord) error {
	switch listFormat {
	case "json":
		return printJSON(records)
	case "yaml":
		return printYAML(records)
	}

	if len(records) == 0 {
		fmt.Println("No backup records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BACKUP ID\tSTORE\tSTATUS\tSIZE\tCREATED\tCHECKSUM")
	for _, record := range records {
		checksum := record.Checksum
		if len(checksum) > 12 {
			checksum = checksum[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.BackupID,
			record.StoreType,
			colorizeStatus(record.Status),
			formatBytes(record.SizeBytes),
			record.CreatedAt.Format("2006-01-02 15:04:05"),
			checksum)
	}
	return w.Flush()
}

func renderRestoreEvents(events []*backup.RestoreEvent) error {
	switch listFormat {
	case "json":
		return printJSON(events)
	case "yaml":
		return printYAML(events)
	}

	if len(events) == 0 {
		fmt.Println("No restore events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESTORE ID\tBACKUP ID\tSTORE\tOUTCOME\tSTARTED\tDURATION")
	for _, event := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			event.RestoreID,
			event.BackupID,
			event.StoreType,
			colorizeOutcome(event.Outcome),
			event.StartedAt.Format("2006-01-02 15:04:05"),
			event.CompletedAt.Sub(event.StartedAt).Round(time.Second))
	}
	return w.Flush()
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printYAML(v interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	return encoder.Encode(v)
}

// colorizeStatus colors the status cell when stdout is a terminal.
func colorizeStatus(status backup.BackupStatus) string {
	if !colorEnabled() {
		return string(status)
	}
	switch status {
	case backup.BackupStatusVerified:
		return color.GreenString(string(status))
	case backup.BackupStatusFailed:
		return color.RedString(string(status))
	case backup.BackupStatusPending, backup.BackupStatusUploading:
		return color.YellowString(string(status))
	default:
		return color.HiBlackString(string(status))
	}
}

func colorizeOutcome(outcome backup.RestoreOutcome) string {
	if !colorEnabled() {
		return string(outcome)
	}
	switch outcome {
	case backup.RestoreOutcomeSucceeded:
		return color.GreenString(string(outcome))
	case backup.RestoreOutcomeFailed:
		return color.RedString(string(outcome))
	default:
		return color.YellowString(string(outcome))
	}
}

func colorEnabled() bool {
	return !noColor && isatty.IsTerminal(os.Stdout.Fd())
}

// formatBytes renders a byte count in human units.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
