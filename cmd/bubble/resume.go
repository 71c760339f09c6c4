package bubble

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
)

func NewCmdResume() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <name>",
		Short: "Unfreeze a paused bubble",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			b, err := app.GetManager().Resume(ctx, args[0])
			if err != nil {
				return utils.HandleCommandError("resuming bubble", err, "bubble", args[0])
			}
			return output.FprintSuccess(cmd, "Bubble %s resumed.", b.Name)
		},
	}
}
