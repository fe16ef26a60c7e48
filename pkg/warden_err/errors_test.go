// pkg/warden_err/errors_test.go
package warden_err

import (
	"errors"
	"testing"

	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewExpectedError(nil))

	base := errors.New("no daemon at http://127.0.0.1:9469")
	err := cerr.Wrap(NewExpectedError(base), "status")
	assert.True(t, IsExpectedUserError(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsExpectedUserError(base))
}

func TestGetExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "plain", err: errors.New("boom"), want: 1},
		{name: "expected", err: NewExpectedError(errors.New("soft")), want: 0},
		{name: "validation", err: NewValidationError("bad", nil), want: 2},
		{name: "wrapped_validation", err: cerr.Wrap(NewValidationError("bad", nil), "load"), want: 2},
		{name: "internal", err: NewInternalError("bug", nil), want: 3},
		{name: "network", err: NewNetworkError("down", nil), want: 1},
		{name: "permission", err: NewPermissionError("pid 12", "signal"), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestClassifiedErrorMessage(t *testing.T) {
	t.Parallel()
	err := NewValidationError("memory_critical must exceed memory_warning", errors.New("gtfield"), "Raise memory_critical")
	msg := err.Error()
	assert.Contains(t, msg, "memory_critical must exceed memory_warning")
	assert.Contains(t, msg, "Cause: gtfield")
	assert.Contains(t, msg, "1. Raise memory_critical")
}

func TestWrapValidationError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, WrapValidationError(nil))

	base := errors.New("pool.target_warm: must be <= 5")
	wrapped := WrapValidationError(base)
	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, 2, GetExitCode(wrapped))
	assert.Contains(t, cerr.FlattenHints(wrapped), "validation failed")
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(NewNetworkError("redis down", nil)))
	assert.False(t, IsRetryable(NewValidationError("bad", nil)))
	assert.True(t, IsRetryable(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsRetryable(errors.New("permission denied")))
}
