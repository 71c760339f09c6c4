package bubble

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/domain"
)

func NewCmdCheck() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name>",
		Short: "Report whether a bubble can be archived without losing work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			status, err := app.GetManager().CheckClean(ctx, args[0])
			if err != nil {
				return utils.HandleCommandError("checking bubble", err, "bubble", args[0])
			}
			if status.Clean {
				return output.FprintSuccess(cmd, "Bubble %s is clean.", args[0])
			}
			if status.Error != "" {
				return output.FprintWarning(cmd, "Could not check bubble %s: %s", args[0], status.Error)
			}
			_ = output.FprintWarning(cmd, "Bubble %s has unsaved work:", args[0])
			for _, reason := range domain.FormatCleanReasons(status.Reasons) {
				_ = output.FprintWarning(cmd, "  - %s", reason)
			}
			return nil
		},
	}
}
