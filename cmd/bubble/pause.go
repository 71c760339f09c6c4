package bubble

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
)

func NewCmdPause() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <name>",
		Short: "Freeze a running bubble",
		Long:  "Freeze every process in a running bubble. The container and its workspace stay in place.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			b, err := app.GetManager().Pause(ctx, args[0])
			if err != nil {
				return utils.HandleCommandError("pausing bubble", err, "bubble", args[0])
			}
			return output.FprintSuccess(cmd, "Bubble %s paused.", b.Name)
		},
	}
}
