package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and clear lead locks",
	Long: `Lead locks keep two missions from working the same lead. A lead whose lock
is done stays suppressed until it is cleared here.`,
}

var locksStatusCmd = &cobra.Command{
	Use:         "status <lead-ref>",
	Short:       "Show the lock state of a lead",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runLocksStatus,
}

var locksClearCmd = &cobra.Command{
	Use:         "clear <lead-ref>...",
	Short:       "Delete the locks of one or more leads",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{needsApp: "true"},
	RunE:        runLocksClear,
}

func init() {
	rootCmd.AddCommand(locksCmd)
	locksCmd.AddCommand(locksStatusCmd, locksClearCmd)
}

func runLocksStatus(cmd *cobra.Command, args []string) error {
	l, err := application.Locks.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if l == nil {
		fmt.Printf("%s: unlocked\n", args[0])
		return nil
	}
	if outputJSON {
		return printJSON(l)
	}
	fmt.Printf("%s: %s (key %s, updated %s)\n", l.LeadRef, l.Status, l.Key, l.UpdatedAt.Local().Format(time.DateTime))
	return nil
}

func runLocksClear(cmd *cobra.Command, args []string) error {
	if err := application.Locks.Clear(cmd.Context(), args); err != nil {
		return err
	}
	logger.Info().Int("count", len(args)).Msg("Lead locks cleared")
	return nil
}
