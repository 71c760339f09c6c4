// Package alias provides the commands that inspect repository short names.
package alias

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
)

func NewCmdAlias() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Inspect the short names used to resolve targets",
	}

	cmd.AddCommand(NewCmdAliasList())
	return cmd
}

func NewCmdAliasList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List learned and built-in short names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := output.PrintAliasList(app.GetAliasStore().List())
			if err != nil {
				return utils.HandleCommandError("printing alias list", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}
