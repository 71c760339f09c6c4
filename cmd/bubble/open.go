// Package bubble provides the commands that open and manage bubbles.
package bubble

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/lifecycle"
)

func NewCmdOpen() *cobra.Command {
	var (
		forcePath bool
		noClone   bool
	)

	cmd := &cobra.Command{
		Use:   "open <target>",
		Short: "Open a bubble for a repository target",
		Long: `Open a bubble for a pull request, branch, commit or repository.

Targets may be given as:
- a URL such as https://github.com/owner/repo/pull/123
- owner/repo, optionally followed by /pull/N, /tree/BRANCH or /commit/SHA
- a known short name such as mathlib4, with the same suffixes
- a local checkout path, or a pull request number inside a checkout

Opening a target that already has a bubble attaches to it, resuming or
reconstituting it as needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			workDir, err := os.Getwd()
			if err != nil {
				return utils.HandleCommandError("reading working directory", err)
			}

			t, err := app.GetResolver().Resolve(ctx, args[0], domain.ResolveContext{
				WorkDir:   workDir,
				ForcePath: forcePath,
			})
			if err != nil {
				return utils.HandleCommandError("resolving target", err, "target", args[0])
			}

			b, err := app.GetManager().Open(ctx, t, lifecycle.OpenOptions{NoClone: noClone})
			if err != nil {
				return utils.HandleCommandError("opening bubble", err, "target", t.String())
			}

			if b.State == domain.BubbleStateCreated {
				return output.FprintWarning(cmd, "Bubble %s is being provisioned by another process.", b.Name)
			}
			return output.FprintSuccess(cmd, "Bubble %s is %s (%s).", b.Name, b.State.String(), t.String())
		},
	}

	cmd.Flags().BoolVar(&forcePath, "path", false, "Treat the target as a local path")
	cmd.Flags().BoolVar(&noClone, "no-clone", false, "Fail instead of mirroring a repository that is not in the store")
	if err := cmd.Flags().MarkHidden("no-clone"); err != nil {
		panic(fmt.Sprintf("hiding no-clone flag: %v", err))
	}
	return cmd
}
