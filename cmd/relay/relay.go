// Package relay provides the commands that manage the in-container relay.
package relay

import (
	"github.com/spf13/cobra"
)

func NewCmdRelay() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Manage the relay that lets bubbles open other bubbles",
		Long: `The relay is a host daemon listening on a unix socket that is mounted into
every bubble. Code inside a bubble uses it to ask the host to open another
bubble for a repository that is already mirrored.`,
	}

	cmd.AddCommand(NewCmdRelayEnable())
	cmd.AddCommand(NewCmdRelayDisable())
	cmd.AddCommand(NewCmdRelayStatus())
	cmd.AddCommand(NewCmdRelayDaemon())
	cmd.AddCommand(NewCmdRelayRequest())

	return cmd
}
