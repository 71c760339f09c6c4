// Package root implements the command line interface for bubble.
package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/alias"
	"github.com/oar-cd/bubble/cmd/bubble"
	"github.com/oar-cd/bubble/cmd/git"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/relay"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/cmd/version"
	"github.com/oar-cd/bubble/config"
	"github.com/oar-cd/bubble/logging"
)

// SkipInit marks commands that run without the data directory, such as
// those used from inside a container
const SkipInit = "bubble.skip-init"

func Execute() {
	ctx, cancel := utils.SignalContext(&cobra.Command{})
	defer cancel()

	cmd := NewCmdRoot(config.GetDefaultDataDir())
	err := cmd.ExecuteContext(ctx)
	app.Close()
	if err != nil {
		fmt.Fprint(os.Stderr, output.PrintMessage(output.Error, "Error: %s", err))
		os.Exit(utils.ExitCode(err))
	}
}

func NewCmdRoot(defaultDataDir string) *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "bubble",
		Short: "Disposable dev containers for pull requests, branches and commits",
		Long: `Bubble opens isolated development containers for a repository target such as
a pull request, branch or commit. Repositories are mirrored once and shared by
all bubbles, and each bubble can be paused, archived and reconstituted later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsInit(cmd) {
				logging.InitLogging(logging.LogLevel.Resolve(""))
				output.InitColors(output.NoColor.IsSet())
				return nil
			}

			cfg, err := config.NewConfigForCLI(dataDirOverride(cmd, dataDir))
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// CLI flags override config
			output.InitColors(!cfg.ColorEnabled || output.NoColor.IsSet())
			logging.InitLogging(logging.LogLevel.Resolve(cfg.LogLevel))

			if err := app.InitializeWithConfig(cfg); err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().
		StringVarP(&dataDir, "data-dir", "d", defaultDataDir, "Data directory for bubble state, mirrors and workspaces")
	cmd.PersistentFlags().VarP(logging.LogLevel, "log-level", "l", "Set log verbosity level")
	cmd.PersistentFlags().VarP(output.NoColor, "no-color", "c", "Disable colored terminal output")

	cmd.AddCommand(bubble.NewCmdOpen())
	cmd.AddCommand(bubble.NewCmdList())
	cmd.AddCommand(bubble.NewCmdShow())
	cmd.AddCommand(bubble.NewCmdPause())
	cmd.AddCommand(bubble.NewCmdResume())
	cmd.AddCommand(bubble.NewCmdArchive())
	cmd.AddCommand(bubble.NewCmdReconstitute())
	cmd.AddCommand(bubble.NewCmdDestroy())
	cmd.AddCommand(bubble.NewCmdCheck())
	cmd.AddCommand(relay.NewCmdRelay())
	cmd.AddCommand(git.NewCmdGit())
	cmd.AddCommand(alias.NewCmdAlias())
	cmd.AddCommand(version.NewCmdVersion())

	markSkipInit(cmd, "version")
	if request, _, err := cmd.Find([]string{"relay", "request"}); err == nil {
		request.Annotations = map[string]string{SkipInit: "true"}
	}
	return cmd
}

func markSkipInit(root *cobra.Command, name string) {
	for _, c := range root.Commands() {
		if c.Name() == name {
			c.Annotations = map[string]string{SkipInit: "true"}
		}
	}
}

func skipsInit(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[SkipInit] == "true" {
			return true
		}
	}
	return false
}

// dataDirOverride returns the flag value only when it was given explicitly,
// so BUBBLE_DATA_DIR still applies otherwise
func dataDirOverride(cmd *cobra.Command, dataDir string) string {
	if cmd.Flags().Changed("data-dir") {
		return dataDir
	}
	return ""
}
