// pkg/warden_io/context_test.go
package warden_io

import (
	"context"
	"testing"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	undo := otelzap.ReplaceGlobals(otelzap.New(zap.New(core)))
	t.Cleanup(undo)
	return logs
}

func TestNewContext(t *testing.T) {
	observe(t)

	rc := NewContext(context.Background(), "tick")
	require.NotNil(t, rc.Ctx)
	assert.Equal(t, "tick", rc.Command)
	assert.NotEmpty(t, rc.Component)
	assert.False(t, rc.Timestamp.IsZero())
	rc.Span.End()
}

func TestEnd(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
		level   zapcore.Level
	}{
		{name: "success", message: "Command completed", level: zapcore.InfoLevel},
		{name: "expected", err: warden_err.NewExpectedError(cerr.New("daemon busy")), message: "Command finished with notice", level: zapcore.WarnLevel},
		{name: "failure", err: cerr.New("boom"), message: "Command failed", level: zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observe(t)
			rc := NewContext(context.Background(), "run")

			err := tt.err
			rc.End(&err)

			entries := logs.FilterMessage(tt.message).All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)
			assert.Equal(t, "run", entries[0].ContextMap()["command"])
		})
	}
}

func TestHandlePanic(t *testing.T) {
	observe(t)
	rc := NewContext(context.Background(), "run")
	defer rc.Span.End()

	run := func() (err error) {
		defer rc.HandlePanic(&err)
		panic("boom")
	}
	err := run()
	require.Error(t, err)
	assert.True(t, cerr.HasAssertionFailure(err))
	assert.Equal(t, 3, warden_err.GetExitCode(err))
}

func TestClassifyError(t *testing.T) {
	assert.Empty(t, classifyError(nil))
	assert.Equal(t, "user", classifyError(warden_err.NewExpectedError(cerr.New("x"))))
	assert.Equal(t, "system", classifyError(cerr.New("x")))
}
