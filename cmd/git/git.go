// Package git provides the commands that manage the shared mirror store.
package git

import (
	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/gitstore"
)

func NewCmdGit() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git",
		Short: "Manage the shared repository mirrors",
	}

	cmd.AddCommand(NewCmdGitList())
	cmd.AddCommand(NewCmdGitUpdate())

	return cmd
}

func NewCmdGitList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List mirrored repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mirrors, err := app.GetGitStore().List()
			if err != nil {
				return utils.HandleCommandError("listing mirrors", err)
			}
			out, err := output.PrintMirrorList(mirrors)
			if err != nil {
				return utils.HandleCommandError("printing mirror list", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}

func NewCmdGitUpdate() *cobra.Command {
	return &cobra.Command{
		Use:   "update [owner/repo]...",
		Short: "Fetch the latest refs into mirrors",
		Long:  "Fetch every mirror, or only the named ones. Updating a repository that is not mirrored yet creates its mirror.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			store := app.GetGitStore()
			if len(args) == 0 {
				updated, err := store.UpdateAll(ctx)
				for _, m := range updated {
					_ = output.FprintSuccess(cmd, "Updated %s", m.OrgRepo())
				}
				if err != nil {
					return utils.HandleCommandError("updating mirrors", err)
				}
				return nil
			}

			for _, arg := range args {
				t, err := app.GetResolver().Parse(arg)
				if err != nil {
					return utils.HandleCommandError("updating mirror", err, "repo", arg)
				}
				m, err := store.EnsureMirror(ctx, t.Owner, t.Repo, gitstore.EnsureOptions{ForceRefresh: true})
				if err != nil {
					return utils.HandleCommandError("updating mirror", err, "repo", t.OrgRepo())
				}
				_ = output.FprintSuccess(cmd, "Updated %s", m.OrgRepo())
			}
			return nil
		},
	}
}
