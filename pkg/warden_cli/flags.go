// pkg/warden_cli/flags.go

package warden_cli

import (
	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/spf13/cobra"
)

// LoadConfig loads the file named by the persistent --config flag.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(ConfigPath(cmd))
}

// ConfigPath returns the --config flag, falling back to config.DefaultPath
// for commands that are run without the root command's flags.
func ConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	return config.DefaultPath
}
