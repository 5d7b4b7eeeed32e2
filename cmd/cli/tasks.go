package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadforge/mission-service/internal/taskqueue"
)

var (
	listStatus    string
	listType      string
	listMission   string
	listLimit     int
	rescueMinutes int
	rescueLimit   int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and repair the task queue",
}

var tasksListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List recent tasks of the configured organization",
	Example:     `  mission-service tasks list --status processing --limit 20`,
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runTasksList,
}

var tasksGetCmd = &cobra.Command{
	Use:         "get <task-id>",
	Short:       "Show one task with its payload and result",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runTasksGet,
}

var tasksCancelCmd = &cobra.Command{
	Use:         "cancel <task-id>",
	Short:       "Cancel a pending or processing task",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runTasksCancel,
}

var tasksRescueCmd = &cobra.Command{
	Use:   "rescue",
	Short: "Return stuck processing tasks to pending",
	Long: `Return tasks that have been processing without an update for longer than
--older-than minutes to pending so another worker can pick them up.`,
	Example:     `  mission-service tasks rescue --older-than 30 --limit 50`,
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runTasksRescue,
}

var tasksTickCmd = &cobra.Command{
	Use:         "tick",
	Short:       "Claim and run one batch of pending tasks",
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runTasksTick,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksGetCmd, tasksCancelCmd, tasksRescueCmd, tasksTickCmd)

	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, processing, completed, failed)")
	tasksListCmd.Flags().StringVar(&listType, "type", "", "filter by task type, e.g. SEARCH")
	tasksListCmd.Flags().StringVar(&listMission, "mission", "", "filter by mission id")
	tasksListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of tasks")

	tasksRescueCmd.Flags().IntVar(&rescueMinutes, "older-than", 15, "minutes without an update before a task counts as stuck")
	tasksRescueCmd.Flags().IntVar(&rescueLimit, "limit", 100, "maximum number of tasks to rescue")
}

func runTasksList(cmd *cobra.Command, args []string) error {
	f := taskqueue.ListFilter{
		OrganizationID: cfg.Auth.OrganizationID,
		Status:         taskqueue.TaskStatus(listStatus),
		Type:           taskqueue.TaskType(listType),
		MissionID:      listMission,
		Limit:          listLimit,
	}
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("invalid status: %s", listStatus)
	}
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("invalid task type: %s", listType)
	}

	res, err := application.Tasks.List(cmd.Context(), f)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tMISSION\tRETRIES\tUPDATED\tERROR")
	for _, t := range res.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Type, t.Status, t.MissionID, t.RetryCount,
			t.UpdatedAt.Local().Format(time.DateTime), deref(t.ErrorMessage))
	}
	w.Flush()

	fmt.Printf("\npending=%d processing=%d completed=%d failed=%d\n",
		res.Counts[taskqueue.StatusPending], res.Counts[taskqueue.StatusProcessing],
		res.Counts[taskqueue.StatusCompleted], res.Counts[taskqueue.StatusFailed])
	return nil
}

func runTasksGet(cmd *cobra.Command, args []string) error {
	t, err := application.Tasks.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(t)
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	t, err := application.Tasks.Cancel(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(t)
	}
	logger.Info().Str("task_id", t.ID).Str("status", string(t.Status)).Msg("Task cancelled")
	return nil
}

func runTasksRescue(cmd *cobra.Command, args []string) error {
	res, err := application.Tasks.RescueStuck(cmd.Context(), taskqueue.RescueInput{
		OlderThanMinutes: rescueMinutes,
		Limit:            rescueLimit,
	})
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}
	for _, t := range res.Tasks {
		fmt.Printf("%s\t%s\tretry %d\n", t.ID, t.Type, t.RetryCount)
	}
	logger.Info().
		Int("rescued", res.RescuedCount).
		Time("cutoff", res.Cutoff).
		Msg("Rescue finished")
	return nil
}

func runTasksTick(cmd *cobra.Command, args []string) error {
	res, err := application.Processor.Tick(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}
	for _, o := range res.Tasks {
		fmt.Printf("%s\t%s\t%s\t%s\n", o.TaskID, o.Type, o.Status, o.Error)
	}
	logger.Info().
		Int("claimed", res.Claimed).
		Int("completed", res.Completed).
		Int("failed", res.Failed).
		Msg("Tick finished")
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
