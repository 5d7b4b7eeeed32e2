package main

import (
	"github.com/spf13/cobra"

	"github.com/leadforge/mission-service/internal/jobs"
)

var (
	cleanupTaskDays   int
	cleanupLogDays    int
	cleanupReportDays int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished tasks, old mission logs and old report files",
	Example: `  mission-service cleanup
  mission-service cleanup --task-days 7 --log-days 30`,
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	def := jobs.DefaultCleanupConfig()
	cleanupCmd.Flags().IntVar(&cleanupTaskDays, "task-days", def.TaskRetentionDays, "keep finished tasks for this many days")
	cleanupCmd.Flags().IntVar(&cleanupLogDays, "log-days", def.LogRetentionDays, "keep mission logs for this many days")
	cleanupCmd.Flags().IntVar(&cleanupReportDays, "report-days", def.ReportRetentionDays, "keep report workbooks for this many days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cleaner := jobs.NewCleaner(application.Tasks, application.Audit, application.Storage, jobs.CleanupConfig{
		TaskRetentionDays:   cleanupTaskDays,
		LogRetentionDays:    cleanupLogDays,
		ReportRetentionDays: cleanupReportDays,
	}, logger)

	res, err := cleaner.Run(cmd.Context())
	if outputJSON && res != nil {
		if perr := printJSON(res); perr != nil {
			return perr
		}
	}
	return err
}
