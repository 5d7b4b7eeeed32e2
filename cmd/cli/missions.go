package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadforge/mission-service/internal/missions"
)

var (
	logsLimit  int
	triggerKey string
)

var missionsCmd = &cobra.Command{
	Use:   "missions",
	Short: "Trigger missions and read their logs",
}

var missionsTriggerCmd = &cobra.Command{
	Use:   "trigger <mission-id>",
	Short: "Queue the first task of a mission",
	Long: `Queue the first task of a mission the same way POST /missions/:id/trigger
does. Re-running with the same --key returns the task created the first time.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runMissionsTrigger,
}

var missionsLogsCmd = &cobra.Command{
	Use:         "logs <mission-id>",
	Short:       "Show the most recent mission log entries",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runMissionsLogs,
}

func init() {
	rootCmd.AddCommand(missionsCmd)
	missionsCmd.AddCommand(missionsTriggerCmd, missionsLogsCmd)

	missionsTriggerCmd.Flags().StringVar(&triggerKey, "key", "", "idempotency key (generated when empty)")
	missionsLogsCmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum number of entries")
}

func runMissionsTrigger(cmd *cobra.Command, args []string) error {
	res, err := application.Trigger.Trigger(cmd.Context(), missions.TriggerInput{
		OrganizationID: cfg.Auth.OrganizationID,
		MissionID:      args[0],
		IdempotencyKey: triggerKey,
	})
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}
	logger.Info().
		Str("mission_id", res.MissionID).
		Str("task_id", res.Task.ID).
		Str("task_type", string(res.Task.Type)).
		Str("idempotency_key", res.IdempotencyKey).
		Bool("created", res.Created).
		Msg("Mission triggered")
	return nil
}

func runMissionsLogs(cmd *cobra.Command, args []string) error {
	entries, err := application.Audit.List(cmd.Context(), args[0], logsLimit)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tLEVEL\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.Level, e.Message)
	}
	w.Flush()
	return nil
}
