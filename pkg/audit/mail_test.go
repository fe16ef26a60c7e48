// pkg/audit/mail_test.go
package audit

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedMail struct {
	from string
	to   []string
	data string
}

type testBackend struct {
	mu   sync.Mutex
	mail []capturedMail
}

func (b *testBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &testSession{backend: b}, nil
}

func (b *testBackend) messages() []capturedMail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]capturedMail(nil), b.mail...)
}

type testSession struct {
	backend *testBackend
	current capturedMail
}

func (s *testSession) Mail(from string, opts *smtp.MailOptions) error {
	s.current.from = from
	return nil
}

func (s *testSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.current.to = append(s.current.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.current.data = string(b)
	s.backend.mu.Lock()
	s.backend.mail = append(s.backend.mail, s.current)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset()        { s.current = capturedMail{} }
func (s *testSession) Logout() error { return nil }

func startSMTP(t *testing.T) (*testBackend, string) {
	t.Helper()
	backend := &testBackend{}
	srv := smtp.NewServer(backend)
	srv.Domain = "localhost"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return backend, ln.Addr().String()
}

func TestMailSinkSendsCriticalNotifications(t *testing.T) {
	setupLogger(t)
	backend, addr := startSMTP(t)

	sink, err := NewMailSink(MailConfig{
		Addr:        addr,
		From:        "warden@example.com",
		To:          []string{"ops@example.com"},
		MinInterval: time.Hour,
		Hostname:    "automation-01",
	})
	require.NoError(t, err)
	ctx := context.Background()

	// WARNING notifications are not mailed.
	require.NoError(t, sink.Notify(ctx, Notification{Severity: governor.SeverityWarning}))
	assert.Empty(t, backend.messages())

	require.NoError(t, sink.Notify(ctx, Notification{
		Timestamp:     time.Now(),
		Severity:      governor.SeverityCritical,
		MemoryPercent: 95,
		WorkerCount:   6,
		Classifications: []governor.Classification{
			{Metric: governor.MetricMemory, Severity: governor.SeverityCritical, Value: 95, Limit: 90},
		},
	}))

	msgs := backend.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "warden@example.com", msgs[0].from)
	assert.Equal(t, []string{"ops@example.com"}, msgs[0].to)
	assert.Contains(t, msgs[0].data, "CRITICAL load on automation-01")
	assert.Contains(t, msgs[0].data, "Memory:   95.0%")

	// Second critical inside MinInterval is rate limited.
	require.NoError(t, sink.Notify(ctx, Notification{Severity: governor.SeverityCritical}))
	assert.Len(t, backend.messages(), 1)
}

func TestMailSinkOnlyMailsFailedRemediations(t *testing.T) {
	setupLogger(t)
	backend, addr := startSMTP(t)
	sink, err := NewMailSink(MailConfig{Addr: addr, From: "warden@example.com", To: []string{"ops@example.com"}})
	require.NoError(t, err)

	ev := event("ok")
	require.NoError(t, sink.Record(context.Background(), ev))
	assert.Empty(t, backend.messages())

	ev.Outcome = governor.OutcomeFailed
	ev.Detail = "operation not permitted"
	require.NoError(t, sink.Record(context.Background(), ev))
	msgs := backend.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].data, "operation not permitted")
}

func TestNewMailSinkValidates(t *testing.T) {
	_, err := NewMailSink(MailConfig{Addr: "localhost:25"})
	assert.Error(t, err)
}
