// cmd/run/run.go

package run

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/app"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_io"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var (
	listenAddr string
	noAPI      bool
)

// RunCmd starts the governor and blocks until interrupted.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the governor loop",
	Long: `Run samples the host on every interval, remediates threshold breaches and
keeps the browser pool warm. The status API serves /health, /metrics and
/api/* unless --no-api is given.

The first SIGINT or SIGTERM lets the current tick finish and then exits.
A second one forces exit.

Examples:
  warden run
  warden run --config ./warden.yaml --listen 0.0.0.0:9469`,
	Args: cobra.NoArgs,
	RunE: warden_cli.Wrap(runGovernor),
}

func init() {
	RunCmd.Flags().StringVar(&listenAddr, "listen", "", "Override api.listen")
	RunCmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the status API")
}

func runGovernor(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	logger := otelzap.Ctx(rc.Ctx)

	cfg, err := warden_cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.API.Listen = listenAddr
	}

	handler := warden_cli.NewSignalHandler(rc.Ctx)
	defer handler.Stop()

	a, err := app.Build(handler.Context(), cfg, app.Options{})
	if err != nil {
		return err
	}
	handler.RegisterCleanup(a.Close)

	if !noAPI {
		srv := a.StatusServer()
		addr, err := srv.Start(handler.Context())
		if err != nil {
			_ = handler.Cleanup()
			return err
		}
		handler.RegisterCleanup(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
		fmt.Fprintf(cmd.ErrOrStderr(), "warden status API on http://%s\n", addr)
	}

	logger.Info("Governor starting",
		zap.Duration("interval", cfg.Scheduler.Interval),
		zap.Int("target_warm", cfg.Pool.TargetWarm),
		zap.String("command", cfg.Pool.Command))

	runErr := a.Loop.Run(handler.Context())

	if sig := handler.Signal(); sig != nil {
		logger.Info("Governor stopped", zap.String("signal", sig.String()))
	}
	if err := handler.Cleanup(); err != nil {
		logger.Warn("Shutdown was not clean", zap.Error(err))
	}
	return runErr
}
