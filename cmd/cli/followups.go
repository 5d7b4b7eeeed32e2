package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadforge/mission-service/internal/followup"
)

var previewAt string

var followupsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Run or preview the campaign follow-up scheduler",
}

var followupsRunCmd = &cobra.Command{
	Use:         "run",
	Short:       "Queue every follow-up step that is due now",
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runFollowups,
}

var followupsPreviewCmd = &cobra.Command{
	Use:   "preview [campaign.yaml]",
	Short: "List the follow-up steps that are due without queueing them",
	Long: `Without arguments the active campaigns in the database are evaluated. With a
campaign file the campaign and its leads are read from YAML instead and nothing
touches the database.`,
	Example: `  mission-service followups preview
  mission-service followups preview ./testdata/campaign.yaml --at 2026-05-10T09:00:00Z`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFollowupsPreview,
}

var followupsImportCmd = &cobra.Command{
	Use:         "import <campaign.yaml>",
	Short:       "Store a campaign and its leads from a YAML file",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runFollowupsImport,
}

func init() {
	rootCmd.AddCommand(followupsCmd)
	followupsCmd.AddCommand(followupsRunCmd, followupsPreviewCmd, followupsImportCmd)

	followupsPreviewCmd.Flags().StringVar(&previewAt, "at", "", "evaluate at this RFC3339 time instead of now (file mode only)")
}

func runFollowups(cmd *cobra.Command, args []string) error {
	res, err := application.Followups.Run(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(res)
	}
	printRows(res.Rows)
	logger.Info().
		Int("campaigns", res.Campaigns).
		Int("eligible", res.Eligible).
		Int("enqueued", res.Enqueued).
		Int("existing", res.Existing).
		Int("capped", res.Capped).
		Msg("Follow-up run finished")
	return nil
}

func runFollowupsPreview(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return previewFromDatabase(cmd)
	}

	c, leads, err := followup.LoadCampaignFile(args[0])
	if err != nil {
		return err
	}
	now := time.Now()
	if previewAt != "" {
		now, err = time.Parse(time.RFC3339, previewAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}
	rows := followup.ComputeEligible(c, leads, now)
	if outputJSON {
		return printJSON(rows)
	}
	printRows(rows)
	return nil
}

// previewFromDatabase builds the services on demand since preview only needs
// them without a file argument.
func previewFromDatabase(cmd *cobra.Command) error {
	cmd.Annotations = map[string]string{needsApp: "true"}
	if err := persistentPreRun(cmd, nil); err != nil {
		return err
	}
	rows, n, err := application.Followups.Preview(cmd.Context())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(rows)
	}
	printRows(rows)
	logger.Info().Int("campaigns", n).Int("eligible", len(rows)).Msg("Preview finished")
	return nil
}

func runFollowupsImport(cmd *cobra.Command, args []string) error {
	c, leads, err := followup.LoadCampaignFile(args[0])
	if err != nil {
		return err
	}
	if c.OrganizationID == "" {
		c.OrganizationID = cfg.Auth.OrganizationID
	}

	ctx := cmd.Context()
	if err := application.Campaigns.Create(ctx, c); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	if err := application.Campaigns.UpsertLeads(ctx, c.ID, leads); err != nil {
		return fmt.Errorf("store leads: %w", err)
	}
	logger.Info().
		Str("campaign_id", c.ID).
		Int("steps", len(c.Steps)).
		Int("leads", len(leads)).
		Msg("Campaign imported")
	return nil
}

func printRows(rows []followup.EligibleRow) {
	if len(rows) == 0 {
		fmt.Println("No follow-ups due")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CAMPAIGN\tLEAD\tEMAIL\tSTEP\tELAPSED DAYS\tSUBJECT")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.CampaignID, r.LeadID, r.Email, r.NextStepIdx, r.ElapsedDays, r.Step.Subject)
	}
	w.Flush()
}
