package bubble

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/domain"
)

func NewCmdShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show detailed bubble information",
		Long:  "Display a bubble's target, recorded state, container state, image and checkout.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			b, status, err := app.GetManager().Inspect(ctx, args[0])
			if b == nil {
				return utils.HandleCommandError("showing bubble", err, "bubble", args[0])
			}
			if err != nil {
				// The record is still worth showing when the runtime is unreachable
				_ = output.FprintWarning(cmd, "Container state unavailable: %s", domain.FormatErrorForUser(err))
			}

			out, err := output.PrintBubbleDetails(b, status)
			if err != nil {
				return utils.HandleCommandError("printing bubble details", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}
