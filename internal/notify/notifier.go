package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"gomarketplace_sync/pkg/logger"
)

// Notifier delivers operator alerts. cause may be nil.
type Notifier interface {
	EmailAlert(ctx context.Context, subject, body string, cause error) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	MaxTries uint
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	cfg  SMTPConfig
	send sendFunc
	log  logger.Logger
}

// New returns an SMTP notifier, or a log-only one when no mail host is configured.
func New(cfg SMTPConfig, log logger.Logger) Notifier {
	if cfg.Host == "" || len(cfg.To) == 0 {
		return NewLogNotifier(log)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail, log: log.WithPrefix("[Notifier]")}
}

func (n *SMTPNotifier) EmailAlert(ctx context.Context, subject, body string, cause error) error {
	msg := compose(n.cfg.From, n.cfg.To, subject, body, cause)
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, n.send(addr, auth, n.cfg.From, n.cfg.To, msg)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(n.cfg.MaxTries),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, wait time.Duration) {
			n.log.Warn("mail to %s failed, retrying in %s: %v", strings.Join(n.cfg.To, ","), wait, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to send alert %q: %w", subject, err)
	}
	n.log.Log("alert sent: %s", subject)
	return nil
}

func compose(from string, to []string, subject, body string, cause error) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if cause != nil {
		fmt.Fprintf(&sb, "\r\n\r\nCause: %v\r\n", cause)
	}
	return []byte(sb.String())
}

// LogNotifier writes alerts to the log instead of mailing them.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.WithPrefix("[Notifier]")}
}

func (n *LogNotifier) EmailAlert(_ context.Context, subject, body string, cause error) error {
	if cause != nil {
		n.log.Error("%s\n%s\ncause: %v", subject, body, cause)
		return nil
	}
	n.log.Warn("%s\n%s", subject, body)
	return nil
}
