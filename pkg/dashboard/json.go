/* pkg/dashboard/json.go */

package dashboard

import (
	"encoding/json"
	"io"

	cerr "github.com/cockroachdb/errors"
)

// WriteJSON writes v as indented JSON for --json output.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return cerr.Wrap(err, "failed to encode output")
	}
	return nil
}
