package relay

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	relaysvc "github.com/oar-cd/bubble/relay"
)

var errNotInBubble = errors.New(`relay requests are sent from inside a bubble, use "bubble open" on the host`)

func NewCmdRelayRequest() *cobra.Command {
	return &cobra.Command{
		Use:   "request <target>",
		Short: "Ask the host to open a bubble (run inside a bubble)",
		Long: `Send a request to the host relay from inside a bubble. The target must name
a repository the host has already mirrored, such as owner/repo/pull/123.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !utils.InsideBubble() {
				return utils.HandleCommandError("sending relay request", errNotInBubble)
			}

			ctx, cancel := utils.SignalContext(cmd)
			defer cancel()

			resp, err := relaysvc.NewClient().Request(ctx, args[0])
			if err != nil {
				return utils.HandleCommandError("sending relay request", err, "target", args[0])
			}
			if err := resp.Err(); err != nil {
				return err
			}
			return output.FprintSuccess(cmd, "%s", resp.Message)
		},
	}
}
