// pkg/warden_cli/signals.go
//
// Signal handling and graceful shutdown. The first SIGINT/SIGTERM cancels
// the handler's context so the governor finishes its tick and returns; a
// second one forces exit.

package warden_cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// CleanupFunc is a function that performs cleanup operations
type CleanupFunc func() error

// SignalHandler manages graceful shutdown on signals
type SignalHandler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
	done    chan struct{}
	stop    sync.Once
	timeout time.Duration
	exit    func(code int)

	mu           sync.Mutex
	cleanupFuncs []CleanupFunc
	received     os.Signal
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(ctx context.Context) *SignalHandler {
	h := newSignalHandler(ctx)
	signal.Notify(h.sigChan, os.Interrupt, syscall.SIGTERM)
	go h.handleSignals()
	return h
}

func newSignalHandler(ctx context.Context) *SignalHandler {
	ctx, cancel := context.WithCancel(ctx)
	return &SignalHandler{
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
		exit:    os.Exit,
	}
}

// RegisterCleanup adds a cleanup function to be called on shutdown.
// Cleanup functions are called in REVERSE order (LIFO)
func (h *SignalHandler) RegisterCleanup(cleanup CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFuncs = append(h.cleanupFuncs, cleanup)
}

// Context returns the cancellable context
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

// Signal returns the signal that cancelled the context, if any.
func (h *SignalHandler) Signal() os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received
}

func (h *SignalHandler) handleSignals() {
	logger := otelzap.Ctx(h.ctx)

	select {
	case sig := <-h.sigChan:
		logger.Info("Received signal, finishing current tick before exit",
			zap.String("signal", sig.String()))
		h.mu.Lock()
		h.received = sig
		h.mu.Unlock()
		h.cancel()
	case <-h.done:
		return
	}

	select {
	case sig := <-h.sigChan:
		logger.Error("Received second signal, forcing exit",
			zap.String("signal", sig.String()))
		fmt.Fprintln(os.Stderr, "\nReceived second interrupt, forcing exit")
		h.exit(1)
	case <-h.done:
	}
}

// Cleanup runs registered cleanup functions in LIFO order within the
// handler's timeout and returns their aggregated errors.
func (h *SignalHandler) Cleanup() error {
	logger := otelzap.Ctx(h.ctx)

	h.mu.Lock()
	funcs := append([]CleanupFunc(nil), h.cleanupFuncs...)
	h.cleanupFuncs = nil
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var errs *multierror.Error
		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				logger.Warn("Cleanup function failed", zap.Int("index", i), zap.Error(err))
				errs = multierror.Append(errs, err)
			}
		}
		done <- errs.ErrorOrNil()
	}()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		logger.Error("Cleanup timed out", zap.Duration("timeout", h.timeout))
		return cerr.Newf("cleanup timed out after %s", h.timeout)
	}
}

// Stop releases the signal subscription. Safe to call more than once.
func (h *SignalHandler) Stop() {
	h.stop.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		h.cancel()
	})
}
