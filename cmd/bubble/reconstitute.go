package bubble

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/lifecycle"
)

func NewCmdReconstitute() *cobra.Command {
	return &cobra.Command{
		Use:   "reconstitute <name>",
		Short: "Recreate an archived bubble",
		Long:  "Recreate an archived bubble from its recorded target and restore its editor session.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			b, err := app.GetManager().Reconstitute(ctx, args[0], lifecycle.OpenOptions{})
			if err != nil {
				return utils.HandleCommandError("reconstituting bubble", err, "bubble", args[0])
			}
			return output.FprintSuccess(cmd, "Bubble %s is %s.", b.Name, b.State.String())
		},
	}
}
