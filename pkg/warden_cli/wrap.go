// pkg/warden_cli/wrap.go

package warden_cli

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Wrap ensures panic recovery, telemetry and completion logging.
func Wrap(fn func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx := warden_io.NewContext(parent, cmd.Name())
		defer ctx.End(&err)
		defer ctx.HandlePanic(&err)

		warden_io.LogRuntimeExecutionContext(ctx)

		err = fn(ctx, cmd, args)
		if err != nil && !warden_err.IsExpectedUserError(err) {
			err = cerr.WithStack(err)
		}
		return err
	}
}
