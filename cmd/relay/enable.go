package relay

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
)

func NewCmdRelayEnable() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Allow bubbles to request new bubbles",
		Long: `Enable the relay. Bubbles created from now on receive a relay token and the
relay socket. Run "bubble relay daemon" to start serving requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.GetConfig()
			if err := cfg.SetRelayEnabled(true); err != nil {
				return utils.HandleCommandError("enabling relay", err)
			}
			if err := output.FprintSuccess(cmd, "Relay enabled."); err != nil {
				return err
			}
			return output.FprintPlain(cmd, "Start it with: bubble relay daemon")
		},
	}
}

func NewCmdRelayDisable() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Stop accepting relay requests and revoke every relay token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.GetConfig()
			if err := cfg.SetRelayEnabled(false); err != nil {
				return utils.HandleCommandError("disabling relay", err)
			}
			if err := app.GetRelayTokenRepository().RevokeAll(); err != nil {
				return utils.HandleCommandError("revoking relay tokens", err)
			}
			// A running daemon keeps its listener but every token it would accept is gone
			if err := os.Remove(cfg.RelaySocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return utils.HandleCommandError("removing relay socket", err, "socket", cfg.RelaySocketPath)
			}
			return output.FprintSuccess(cmd, "Relay disabled and all relay tokens revoked.")
		},
	}
}
