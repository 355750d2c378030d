package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperengineering/migrant/internal/migration/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <table>",
	Short: "Sample a table's source and target rows and report drift",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	var result verify.Result
	if err := adminRequestJSON("POST", "/api/v1/tables/"+args[0]+"/verify", nil, &result); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
