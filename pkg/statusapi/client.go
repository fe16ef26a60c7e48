// pkg/statusapi/client.go

package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/scheduler"
	"github.com/CodeMonkeyCybersecurity/warden/pkg/warden_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ErrRateLimited is returned when the daemon refuses a manual tick.
var ErrRateLimited = cerr.New("manual tick rate limited by daemon")

// Client talks to a running daemon's status API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Retries is how many extra attempts a GET gets after a transient
	// failure. Tick is never retried.
	Retries int
	// Backoff is the wait before the first retry; it doubles each attempt.
	Backoff time.Duration
}

func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// A remote tick waits for termination grace windows.
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
		Retries: 2,
		Backoff: 250 * time.Millisecond,
	}
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", &out)
	return out, err
}

func (c *Client) Events(ctx context.Context, limit int) ([]governor.RemediationEvent, error) {
	var out []governor.RemediationEvent
	err := c.do(ctx, http.MethodGet, "/api/events?limit="+strconv.Itoa(limit), &out)
	return out, err
}

func (c *Client) Tick(ctx context.Context) (scheduler.TickReport, error) {
	var out scheduler.TickReport
	err := c.do(ctx, http.MethodPost, "/api/tick", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	attempts := 1
	if method == http.MethodGet && c.Retries > 0 {
		attempts += c.Retries
	}
	wait := c.Backoff

	for attempt := 1; ; attempt++ {
		err := c.once(ctx, method, path, out)
		if err == nil || attempt >= attempts || !warden_err.IsRetryable(err) {
			return err
		}
		otelzap.Ctx(ctx).Debug("Daemon request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.String("reason", err.Error()))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Client) once(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return cerr.Wrap(err, "failed to build request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return warden_err.NewNetworkError("cannot reach warden daemon at "+c.BaseURL, err,
			"Check that 'warden run' is active",
			"Check --remote matches api.listen")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return cerr.Wrap(err, "failed to read response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return cerr.Mark(responseError(resp.StatusCode, body), governor.ErrTickInProgress)
	case http.StatusTooManyRequests:
		return cerr.Mark(responseError(resp.StatusCode, body), ErrRateLimited)
	default:
		return responseError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return cerr.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

func responseError(status int, body []byte) error {
	var e ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return cerr.Newf("daemon returned %d: %s: %s", status, e.Message, e.Error)
	}
	return cerr.Newf("daemon returned %d: %s", status, strings.TrimSpace(string(body)))
}
