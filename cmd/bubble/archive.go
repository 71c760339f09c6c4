package bubble

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/domain"
)

func NewCmdArchive() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "archive <name>",
		Short: "Remove a bubble's container and keep what is needed to bring it back",
		Long: `Archive a bubble: its container and workspace are removed, and the target,
commit, image and editor session are kept so that "bubble reconstitute" can
recreate it.

A bubble holding uncommitted changes, stashes, unpushed commits or extra files
is not archived unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			b, err := app.GetManager().Archive(ctx, args[0], force)
			var notClean *domain.NotCleanError
			if errors.As(err, &notClean) {
				_ = output.FprintWarning(cmd, "Bubble %s has unsaved work:", notClean.Name)
				for _, reason := range domain.FormatCleanReasons(notClean.Status.Reasons) {
					_ = output.FprintWarning(cmd, "  - %s", reason)
				}
				_ = output.FprintWarning(cmd, "Save it, or archive with --force to discard it.")
			}
			if err != nil {
				return utils.HandleCommandError("archiving bubble", err, "bubble", args[0])
			}
			return output.FprintSuccess(cmd, "Bubble %s archived.", b.Name)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Archive even if the bubble has unsaved work")
	return cmd
}
