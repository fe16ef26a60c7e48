// pkg/app/app_test.go
package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/config"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/procruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zaptest"
)

type quietHost struct{}

func (quietHost) MemoryPercent(ctx context.Context) (float64, error) { return 30, nil }
func (quietHost) CPUPercent(ctx context.Context) (float64, error)    { return 10, nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Audit.File.Path = filepath.Join(t.TempDir(), "events.jsonl")
	cfg.Purge.Roots = []string{t.TempDir()}
	cfg.Pool.TargetWarm = 2
	return &cfg
}

func TestBuildAndTick(t *testing.T) {
	undo := otelzap.ReplaceGlobals(otelzap.New(zaptest.NewLogger(t)))
	t.Cleanup(undo)

	cfg := testConfig(t)
	rt := procruntime.NewFake(nil)
	a, err := Build(context.Background(), cfg, Options{Runtime: rt, Host: quietHost{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Len(t, a.Sinks, 2, "recorder and file sink")

	report, err := a.Loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Reconcile.Launched, 2)
	assert.Equal(t, 2, rt.LiveCount())

	rec := httptest.NewRecorder()
	a.StatusServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pool_size":2`)
}

func TestBuildRejectsBrokenSinks(t *testing.T) {
	undo := otelzap.ReplaceGlobals(otelzap.New(zaptest.NewLogger(t)))
	t.Cleanup(undo)

	cfg := testConfig(t)
	cfg.Audit.Redis.Enabled = true
	cfg.Audit.Redis.URL = "not a url"

	_, err := Build(context.Background(), cfg, Options{Runtime: procruntime.NewFake(nil), Host: quietHost{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit redis sink")
}

func TestBuildWithRemoteSinks(t *testing.T) {
	undo := otelzap.ReplaceGlobals(otelzap.New(zaptest.NewLogger(t)))
	t.Cleanup(undo)

	cfg := testConfig(t)
	cfg.Audit.File.Path = ""
	cfg.Audit.Redis.Enabled = true
	cfg.Audit.Redis.URL = "redis://127.0.0.1:1/0"
	cfg.Audit.Mail.Enabled = true
	cfg.Audit.Mail.Addr = "127.0.0.1:1"
	cfg.Audit.Mail.From = "warden@example.com"
	cfg.Audit.Mail.To = []string{"ops@example.com"}

	a, err := Build(context.Background(), cfg, Options{Runtime: procruntime.NewFake(nil), Host: quietHost{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Len(t, a.Sinks, 3, "recorder plus redis and smtp behind breakers")
}
