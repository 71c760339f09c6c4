package relay

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/oar-cd/bubble/app"
	"github.com/oar-cd/bubble/cmd/output"
	"github.com/oar-cd/bubble/cmd/utils"
	"github.com/oar-cd/bubble/domain"
)

func NewCmdRelayStatus() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay state and recent requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.GetConfig()

			enabled := "no"
			if cfg.RelayEnabled {
				enabled = "yes"
			}
			listening := "no"
			if _, err := os.Stat(cfg.RelaySocketPath); err == nil {
				listening = "yes"
			}

			tokens, err := app.GetRelayTokenRepository().List()
			if err != nil {
				return utils.HandleCommandError("listing relay tokens", err)
			}

			audit := app.GetRelayAuditRepository()
			since := time.Now().Add(-time.Hour)
			accepted, err := audit.CountSince(since, domain.RelayOutcomeAccepted)
			if err != nil {
				return utils.HandleCommandError("counting relay requests", err)
			}
			rejected, err := audit.CountSince(since, domain.RelayOutcomeRejected)
			if err != nil {
				return utils.HandleCommandError("counting relay requests", err)
			}

			summary, err := output.PrintTable([]string{"Property", "Value"}, [][]string{
				{"Enabled", enabled},
				{"Socket", cfg.RelaySocketPath},
				{"Listening", listening},
				{"Active Tokens", strconv.Itoa(len(tokens))},
				{"Accepted (1h)", strconv.FormatInt(accepted, 10)},
				{"Rejected (1h)", strconv.FormatInt(rejected, 10)},
			})
			if err != nil {
				return utils.HandleCommandError("printing relay status", err)
			}
			if err := output.FprintPlain(cmd, "%s", summary); err != nil {
				return err
			}

			recent, err := audit.ListRecent(limit)
			if err != nil {
				return utils.HandleCommandError("listing relay requests", err)
			}
			table, err := output.PrintRelayRequests(recent)
			if err != nil {
				return utils.HandleCommandError("printing relay requests", err)
			}
			return output.FprintPlain(cmd, "%s", table)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of recent requests to show")
	return cmd
}
