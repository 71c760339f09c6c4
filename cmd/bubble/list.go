package bubble

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/domain"
)

func NewCmdList() *cobra.Command {
	var (
		all   bool
		clean bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bubbles",
		Long: `Display the bubbles tracked on this host.

Archived bubbles are hidden unless --all is given. With --clean, every running
bubble is checked for work that would be lost by archiving it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			m := app.GetManager()
			bubbles, err := m.List(all)
			if err != nil {
				return utils.HandleCommandError("listing bubbles", err)
			}

			var statuses map[string]domain.CleanStatus
			if clean {
				statuses = map[string]domain.CleanStatus{}
				for _, b := range bubbles {
					if b.State != domain.BubbleStateRunning {
						continue
					}
					status, err := m.CheckClean(ctx, b.Name)
					if err != nil {
						status = domain.CleanStatus{Error: domain.FormatErrorForUser(err)}
					}
					statuses[b.Name] = status
				}
			}

			out, err := output.PrintBubbleList(bubbles, statuses)
			if err != nil {
				return utils.HandleCommandError("printing bubble list", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include archived bubbles")
	cmd.Flags().BoolVar(&clean, "clean", false, "Check running bubbles for unsaved work")
	return cmd
}
