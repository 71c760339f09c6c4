package relay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/utils"
)

var errRelayDisabled = errors.New(`relay is disabled, run "bubble relay enable" first`)

func NewCmdRelayDaemon() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve relay requests until interrupted",
		Long: `Listen on the relay socket and open bubbles on behalf of containers.

With --watch the daemon also refreshes every mirror periodically and reports
bubbles whose containers no longer match their recorded state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.GetConfig().RelayEnabled {
				return utils.HandleCommandError("starting relay", errRelayDisabled)
			}

			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			if err := app.GetRuntime().Ping(ctx); err != nil {
				return utils.HandleCommandError("connecting to container runtime", err)
			}

			server, auditLog, err := app.NewRelayServer()
			if err != nil {
				return utils.HandleCommandError("starting relay", err)
			}
			defer func() {
				if err := auditLog.Close(); err != nil {
					slog.Warn("Failed to close relay audit log", "error", err)
				}
			}()

			var wg sync.WaitGroup
			if watch {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := app.NewWatcher().Start(ctx); err != nil {
						slog.Error("Watcher stopped", "error", err)
					}
				}()
			}

			err = server.Serve(ctx)
			cancel()
			wg.Wait()
			if err != nil {
				return utils.HandleCommandError("serving relay", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh mirrors and report drifted bubbles in the background")
	return cmd
}
