// cmd/tick/tick.go

package tick

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/app"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/dashboard"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/statusapi"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	remote     string
	jsonOutput bool
)

// TickCmd runs a single governor tick.
var TickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one sample, remediate and reconcile cycle",
	Long: `Tick runs exactly one governor cycle and prints what it did.

With --remote the tick is requested from a running daemon, which applies its
own rate limit and refuses while a tick is already in progress. Without it the
cycle runs in this process against the local configuration.

Examples:
  warden tick
  warden tick --remote 127.0.0.1:9469 --json`,
	Args: cobra.NoArgs,
	RunE: warden_cli.Wrap(runTick),
}

func init() {
	TickCmd.Flags().StringVar(&remote, "remote", "", "Address of a running daemon's status API")
	TickCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the tick report as JSON")
}

func runTick(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)

	var (
		report scheduler.TickReport
		err    error
	)
	if remote != "" {
		logger.Info("Requesting tick from daemon", zap.String("remote", remote))
		report, err = statusapi.NewClient(remote).Tick(rc.Ctx)
		switch {
		case cerr.Is(err, governor.ErrTickInProgress):
			return warden_err.NewExpectedError(cerr.New("the daemon is already running a tick; try again shortly"))
		case cerr.Is(err, statusapi.ErrRateLimited):
			return warden_err.NewExpectedError(err)
		}
	} else {
		report, err = localTick(rc, cmd)
	}

	if report.Number > 0 {
		if jsonOutput {
			if jerr := dashboard.WriteJSON(cmd.OutOrStdout(), report); jerr != nil {
				return jerr
			}
		} else {
			fmt.Fprint(cmd.OutOrStdout(), dashboard.RenderTick(dashboard.NewStyles(), report))
		}
	}
	return err
}

func localTick(rc *warden_io.RuntimeContext, cmd *cobra.Command) (scheduler.TickReport, error) {
	cfg, err := warden_cli.LoadConfig(cmd)
	if err != nil {
		return scheduler.TickReport{}, err
	}
	a, err := app.Build(rc.Ctx, cfg, app.Options{})
	if err != nil {
		return scheduler.TickReport{}, err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			otelzap.Ctx(rc.Ctx).Warn("Failed to close audit sinks", zap.Error(closeErr))
		}
	}()
	return a.Loop.Tick(rc.Ctx)
}
