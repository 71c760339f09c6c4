package bubble

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
)

func NewCmdDestroy() *cobra.Command {
	return &cobra.Command{
		Use:     "destroy <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a bubble and everything it holds",
		Long:    "Remove a bubble's container, workspace and relay token, and forget it. This cannot be undone.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			if err := app.GetManager().Destroy(ctx, args[0]); err != nil {
				return utils.HandleCommandError("destroying bubble", err, "bubble", args[0])
			}
			return output.FprintSuccess(cmd, "Bubble %s destroyed.", args[0])
		},
	}
}
