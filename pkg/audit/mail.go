// pkg/audit/mail.go

package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/governor"
	cerr "github.com/cockroachdb/errors"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MailConfig configures a MailSink.
type MailConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	To       []string
	// MinInterval is the minimum gap between two mails.
	MinInterval time.Duration
	Hostname    string
}

// MailSink mails CRITICAL notifications and failed remediations. Everything
// else is left to the other sinks.
type MailSink struct {
	cfg     MailConfig
	limiter *rate.Limiter
	send    func(addr string, a sasl.Client, from string, to []string, r io.Reader) error
}

// NewMailSink validates cfg and returns a sink.
func NewMailSink(cfg MailConfig) (*MailSink, error) {
	if cfg.Addr == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, cerr.New("mail sink needs addr, from and at least one recipient")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 10 * time.Minute
	}
	return &MailSink{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		send:    smtp.SendMail,
	}, nil
}

func (m *MailSink) Record(ctx context.Context, ev governor.RemediationEvent) error {
	if ev.Outcome != governor.OutcomeFailed {
		return nil
	}
	subject := fmt.Sprintf("[warden] remediation failed: %s %s", ev.Metric, ev.Severity)
	var body strings.Builder
	fmt.Fprintf(&body, "Event:   %s\n", ev.ID)
	fmt.Fprintf(&body, "Time:    %s\n", ev.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&body, "Metric:  %s = %.2f (limit %.2f)\n", ev.Metric, ev.Value, ev.Limit)
	fmt.Fprintf(&body, "Action:  %s\n", ev.Action)
	fmt.Fprintf(&body, "Detail:  %s\n", ev.Detail)
	return m.deliver(ctx, subject, body.String())
}

func (m *MailSink) Notify(ctx context.Context, n Notification) error {
	if n.Severity != governor.SeverityCritical {
		return nil
	}
	subject := fmt.Sprintf("[warden] CRITICAL load on %s", m.hostname())
	var body strings.Builder
	fmt.Fprintf(&body, "Time:     %s\n", n.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&body, "Memory:   %.1f%%\n", n.MemoryPercent)
	fmt.Fprintf(&body, "CPU:      %.1f%%\n", n.CPUPercent)
	fmt.Fprintf(&body, "Workers:  %d\n\n", n.WorkerCount)
	for _, c := range n.Classifications {
		fmt.Fprintf(&body, "  %-13s %-8s %.2f > %.2f\n", c.Metric, c.Severity, c.Value, c.Limit)
	}
	return m.deliver(ctx, subject, body.String())
}

func (m *MailSink) deliver(ctx context.Context, subject, body string) error {
	logger := otelzap.Ctx(ctx)
	if !m.limiter.Allow() {
		logger.Debug("Mail alert suppressed by rate limit", zap.String("subject", subject))
		return nil
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(m.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}
	if err := m.send(m.cfg.Addr, auth, m.cfg.From, m.cfg.To, &msg); err != nil {
		return cerr.Wrapf(err, "failed to send mail via %s", m.cfg.Addr)
	}
	logger.Info("Mail alert sent", zap.String("subject", subject), zap.Strings("to", m.cfg.To))
	return nil
}

func (m *MailSink) hostname() string {
	if m.cfg.Hostname != "" {
		return m.cfg.Hostname
	}
	return "host"
}
