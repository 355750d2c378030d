package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/migrant/internal/migration/backfill"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Control and inspect a table's backfill job",
}

var backfillStartCmd = &cobra.Command{
	Use:   "start <table>",
	Short: "Start (or resume from checkpoint) a table's backfill",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillStart,
}

var backfillPauseCmd = &cobra.Command{
	Use:   "pause <table>",
	Short: "Pause a table's active backfill",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillPause,
}

var backfillResumeCmd = &cobra.Command{
	Use:   "resume <table>",
	Short: "Resume a table's paused backfill",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillResume,
}

var backfillCancelCmd = &cobra.Command{
	Use:   "cancel <table>",
	Short: "Cancel a table's backfill",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillCancel,
}

var backfillStatusCmd = &cobra.Command{
	Use:   "status <table>",
	Short: "Show a table's backfill progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackfillStatus,
}

func init() {
	backfillCmd.AddCommand(backfillStartCmd, backfillPauseCmd, backfillResumeCmd, backfillCancelCmd, backfillStatusCmd)
}

func runBackfillStart(cmd *cobra.Command, args []string) error {
	if err := adminRequestJSON("POST", "/api/v1/tables/"+args[0]+"/backfill", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backfill started for %q\n", args[0])
	return nil
}

func runBackfillPause(cmd *cobra.Command, args []string) error {
	if err := adminRequestJSON("POST", "/api/v1/tables/"+args[0]+"/backfill/pause", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backfill paused for %q\n", args[0])
	return nil
}

func runBackfillResume(cmd *cobra.Command, args []string) error {
	if err := adminRequestJSON("POST", "/api/v1/tables/"+args[0]+"/backfill/resume", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backfill resumed for %q\n", args[0])
	return nil
}

func runBackfillCancel(cmd *cobra.Command, args []string) error {
	if err := adminRequestJSON("DELETE", "/api/v1/tables/"+args[0]+"/backfill", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backfill cancelled for %q\n", args[0])
	return nil
}

func runBackfillStatus(cmd *cobra.Command, args []string) error {
	var st backfill.Status
	if err := adminRequestJSON("GET", "/api/v1/tables/"+args[0]+"/backfill", nil, &st); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), st)
}
