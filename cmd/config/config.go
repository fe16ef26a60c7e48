// cmd/config/config.go

package config

import (
	"fmt"

	wconfig "github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigCmd inspects warden configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate warden configuration",
	Long: `Inspect the effective warden configuration.

Values come from the YAML file given with --config, then WARDEN_* environment
variables (WARDEN_POOL_TARGET_WARM overrides pool.target_warm), then a .env
file in the working directory.

Examples:
  # Print the effective configuration with secrets redacted
  warden config show

  # Check a file before deploying it
  warden --config ./warden.yaml config validate

  # Print the built-in defaults as a starting file
  warden config defaults > /etc/warden/warden.yaml`,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: warden_cli.Wrap(func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := warden_cli.LoadConfig(cmd)
		if err != nil {
			return err
		}
		return printYAML(cmd, cfg.Redacted())
	}),
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: warden_cli.Wrap(func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		path := warden_cli.ConfigPath(cmd)

		cfg, err := warden_cli.LoadConfig(cmd)
		if err != nil {
			logger.Error("Configuration is invalid", zap.String("path", path), zap.Error(err))
			return err
		}

		source := cfg.Source
		if source == "" {
			source = "built-in defaults"
		}
		logger.Info("Configuration is valid", zap.String("source", source))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", source)
		return nil
	}),
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the built-in defaults as YAML",
	Args:  cobra.NoArgs,
	RunE: warden_cli.Wrap(func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return printYAML(cmd, wconfig.Defaults())
	}),
}

func printYAML(cmd *cobra.Command, cfg wconfig.Config) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return cerr.Wrap(err, "failed to encode configuration")
	}
	return enc.Close()
}

func init() {
	ConfigCmd.AddCommand(showCmd)
	ConfigCmd.AddCommand(validateCmd)
	ConfigCmd.AddCommand(defaultsCmd)
}
