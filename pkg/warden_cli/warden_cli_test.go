// pkg/warden_cli/warden_cli_test.go
package warden_cli

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zaptest"
)

func setupLogger(t *testing.T) {
	t.Helper()
	undo := otelzap.ReplaceGlobals(otelzap.New(zaptest.NewLogger(t)))
	t.Cleanup(undo)
}

func TestWrap(t *testing.T) {
	setupLogger(t)

	t.Run("success", func(t *testing.T) {
		var seen *warden_io.RuntimeContext
		run := Wrap(func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
			seen = rc
			return nil
		})
		require.NoError(t, run(&cobra.Command{Use: "status"}, nil))
		require.NotNil(t, seen)
		assert.Equal(t, "status", seen.Command)
		assert.NotNil(t, seen.Ctx)
	})

	t.Run("panic becomes assertion failure", func(t *testing.T) {
		run := Wrap(func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
			panic("registry corrupted")
		})
		err := run(&cobra.Command{Use: "run"}, nil)
		require.Error(t, err)
		assert.True(t, cerr.HasAssertionFailure(err))
		assert.Contains(t, err.Error(), "registry corrupted")
		assert.Equal(t, 3, warden_err.GetExitCode(err))
	})

	t.Run("expected errors pass through", func(t *testing.T) {
		soft := warden_err.NewExpectedError(errors.New("daemon not running"))
		run := Wrap(func(rc *warden_io.RuntimeContext, cmd *cobra.Command, args []string) error {
			return soft
		})
		err := run(&cobra.Command{Use: "status"}, nil)
		assert.Same(t, soft, err)
		assert.Equal(t, 0, warden_err.GetExitCode(err))
	})
}

func TestSignalHandlerCancelsThenForces(t *testing.T) {
	setupLogger(t)

	h := newSignalHandler(context.Background())
	var code atomic.Int32
	code.Store(-1)
	h.exit = func(c int) { code.Store(int32(c)) }
	go h.handleSignals()
	defer h.Stop()

	h.sigChan <- syscall.SIGTERM
	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by first signal")
	}
	assert.Equal(t, syscall.SIGTERM, h.Signal())
	assert.Equal(t, int32(-1), code.Load(), "first signal does not exit")

	h.sigChan <- syscall.SIGINT
	require.Eventually(t, func() bool { return code.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSignalHandlerCleanup(t *testing.T) {
	setupLogger(t)

	t.Run("runs LIFO and aggregates errors", func(t *testing.T) {
		h := newSignalHandler(context.Background())
		defer h.Stop()

		var order []int
		h.RegisterCleanup(func() error { order = append(order, 1); return nil })
		h.RegisterCleanup(func() error { order = append(order, 2); return errors.New("close redis") })
		h.RegisterCleanup(func() error { order = append(order, 3); return nil })

		err := h.Cleanup()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "close redis")
		assert.Equal(t, []int{3, 2, 1}, order)
	})

	t.Run("times out", func(t *testing.T) {
		h := newSignalHandler(context.Background())
		defer h.Stop()
		h.timeout = 20 * time.Millisecond

		release := make(chan struct{})
		defer close(release)
		h.RegisterCleanup(func() error { <-release; return nil })

		err := h.Cleanup()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out")
	})
}

func TestSignalHandlerStopIsIdempotent(t *testing.T) {
	h := newSignalHandler(context.Background())
	go h.handleSignals()
	h.Stop()
	h.Stop()
	assert.Error(t, h.Context().Err())
}
