package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadforge/mission-service/internal/missions"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect daily quota usage",
}

var quotaStatusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show today's usage against the configured limits",
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runQuotaStatus,
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.AddCommand(quotaStatusCmd)
}

func runQuotaStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	org := cfg.Auth.OrganizationID

	snap, err := application.Quota.Snapshot(ctx, org)
	if err != nil {
		return err
	}
	active, err := application.Missions.Active(ctx, org)
	switch {
	case err == nil:
		snap.ActiveMissionID = &active.ID
	case !errors.Is(err, missions.ErrNotFound):
		return err
	}

	if outputJSON {
		return printJSON(snap)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tUSED\tLIMIT")
	fmt.Fprintf(w, "search_runs\t%d\t%s\n", snap.Usage.SearchRuns, limitString(snap.Limits.DailySearchRunsLimit))
	fmt.Fprintf(w, "leads_searched\t%d\t%s\n", snap.Usage.LeadsSearched, limitString(snap.Limits.DailySearchLimit))
	fmt.Fprintf(w, "leads_enriched\t%d\t%s\n", snap.Usage.LeadsEnriched, limitString(snap.Limits.DailyEnrichLimit))
	fmt.Fprintf(w, "leads_investigated\t%d\t%s\n", snap.Usage.LeadsInvestigated, limitString(snap.Limits.DailyInvestigateLimit))
	fmt.Fprintf(w, "contacts\t%d\t%s\n", snap.Usage.ContactsSentToday, limitString(snap.Limits.DailyContactLimit))
	w.Flush()

	fmt.Printf("\ndate=%s reset=%s", snap.Date, snap.ResetAt.Format(time.RFC3339))
	if snap.ActiveMissionID != nil {
		fmt.Printf(" active_mission=%s", *snap.ActiveMissionID)
	}
	fmt.Println()
	return nil
}

func limitString(n int) string {
	if n < 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
