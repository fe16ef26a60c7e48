// pkg/warden_err/wrap.go

package warden_err

import (
	cerr "github.com/cockroachdb/errors"
)

// WrapValidationError classifies err as a validation failure (exit 2).
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return cerr.WithHint(cerr.WithStack(NewValidationError("configuration is invalid", err,
		"Check the values named above in warden.yaml or the WARDEN_* environment",
		"Run 'warden config validate' after editing")), "validation failed")
}
