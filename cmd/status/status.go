// cmd/status/status.go

package status

import (
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/dashboard"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/statusapi"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_io"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	remote     string
	jsonOutput bool
	events     int
)

// StatusCmd shows a running daemon's state.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show governor state, pool workers and recent remediation",
	Long: `Status queries the status API of a running daemon. The address defaults
to api.listen from the configuration file.

Examples:
  warden status
  warden status --remote 10.0.0.5:9469 --json`,
	Args: cobra.NoArgs,
	RunE: warden_cli.Wrap(runStatus),
}

func init() {
	StatusCmd.Flags().StringVar(&remote, "remote", "", "Address of the daemon's status API (default api.listen)")
	StatusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status as JSON")
	StatusCmd.Flags().IntVar(&events, "events", 10, "Number of recent remediation events to show")
}

func runStatus(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)

	addr := remote
	if addr == "" {
		addr = config.Defaults().API.Listen
		if cfg, err := warden_cli.LoadConfig(cmd); err == nil {
			addr = cfg.API.Listen
		} else {
			logger.Debug("Using default status address", zap.Error(err))
		}
	}

	resp, err := statusapi.NewClient(addr).Status(rc.Ctx)
	if err != nil {
		return err
	}
	if events >= 0 && len(resp.RecentEvents) > events {
		resp.RecentEvents = resp.RecentEvents[len(resp.RecentEvents)-events:]
	}

	if jsonOutput {
		return dashboard.WriteJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprint(cmd.OutOrStdout(), dashboard.RenderStatus(dashboard.NewStyles(), resp, time.Now()))
	return nil
}
