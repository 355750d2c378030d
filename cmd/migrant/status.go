package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperengineering/migrant/internal/migration"
)

var statusCmd = &cobra.Command{
	Use:   "status [table]",
	Short: "Show migration status for one table, or every opened table",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		var st migration.TableStatus
		if err := adminRequestJSON("GET", "/api/v1/tables/"+args[0], nil, &st); err != nil {
			return err
		}
		return printJSON(out, st)
	}

	var all []migration.TableStatus
	if err := adminRequestJSON("GET", "/api/v1/tables", nil, &all); err != nil {
		return err
	}
	return printJSON(out, all)
}
