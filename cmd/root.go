/* cmd/root.go */

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	configcmd "github.com/CodeMonkeyCybersecurity/warden/cmd/config"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/run"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/status"
	"github.com/CodeMonkeyCybersecurity/warden/cmd/tick"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/telemetry"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shutdownTelemetry telemetry.ShutdownFunc

// RootCmd is the base command for warden.
var RootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Resource governor for headless browser workers",
	Long: `warden samples host memory and CPU, classifies them against configured
thresholds, remediates by purging browser caches and terminating workers, and
keeps a warm pool of browser processes ready for the automation engine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		_, path := logger.Init(logger.Options{Level: level})
		logger.L().Debug("Logger initialized", zap.String("log_path", path))

		shutdown, err := telemetry.Init("warden")
		if err != nil {
			logger.L().Warn("Telemetry disabled", zap.Error(err))
		}
		shutdownTelemetry = shutdown
		return nil
	},
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	RootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to warden.yaml")
	RootCmd.PersistentFlags().String("log-level", "", "DEBUG, INFO, WARN or ERROR (default $LOG_LEVEL or INFO)")

	for _, subCmd := range []*cobra.Command{
		run.RunCmd,
		tick.TickCmd,
		status.StatusCmd,
		configcmd.ConfigCmd,
		VersionCmd,
	} {
		RootCmd.AddCommand(subCmd)
	}
}

// Execute runs the root command and exits with the error's classified code.
func Execute() {
	RegisterCommands()
	err := RootCmd.Execute()

	if shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := shutdownTelemetry(ctx); serr != nil {
			logger.L().Warn("Failed to flush telemetry", zap.Error(serr))
		}
		cancel()
	}

	code := warden_err.GetExitCode(err)
	switch {
	case err == nil:
	case warden_err.IsExpectedUserError(err):
		fmt.Fprintf(os.Stderr, "Notice: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	if serr := logger.Sync(); serr != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", serr)
	}
	os.Exit(code)
}
