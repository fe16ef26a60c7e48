/* cmd/version.go */

package cmd

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/version"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_cli"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_io"
	"github.com/spf13/cobra"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warden version",
	RunE: warden_cli.Wrap(func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
		return nil
	}),
}
