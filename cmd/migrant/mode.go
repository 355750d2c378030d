package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/migrant/internal/migration"
)

var modeTable string

var modeCmd = &cobra.Command{
	Use:   "mode <phase>",
	Short: "Set the migration phase (SOURCE_ONLY, DUAL_WRITE_READ_SOURCE, DUAL_WRITE_READ_TARGET, TARGET_ONLY)",
	Args:  cobra.ExactArgs(1),
	RunE:  runMode,
}

func init() {
	modeCmd.Flags().StringVar(&modeTable, "table", "", "Set the phase for a single table instead of the registry default")
}

type setPhaseBody struct {
	Phase string `json:"phase"`
}

func runMode(cmd *cobra.Command, args []string) error {
	if _, err := migration.ParsePhase(args[0]); err != nil {
		return err
	}

	body := setPhaseBody{Phase: args[0]}
	if modeTable != "" {
		if err := adminRequestJSON("PUT", "/api/v1/tables/"+modeTable+"/phase", body, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "table %q phase set to %s\n", modeTable, args[0])
		return nil
	}

	if err := adminRequestJSON("PUT", "/api/v1/phase", body, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "default phase set to %s\n", args[0])
	return nil
}
