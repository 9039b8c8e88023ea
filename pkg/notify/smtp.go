package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
)

// defaultRetries is the delivery retry budget: the full
// connect-authenticate-send sequence is attempted this many times.
const defaultRetries = 3

// SMTPConfig configures the SMTP notifier.
type SMTPConfig struct {
	Host     string
	Port     int
	SSL      bool
	From     string
	Username string
	Password string
}

// SMTPNotifier delivers codes by mail with a bounded retry policy.
type SMTPNotifier struct {
	cfg      SMTPConfig
	branding string
	retries  int
}

// NewSMTPNotifier creates an SMTP notifier. retries <= 0 selects the
// default budget of 3 attempts.
func NewSMTPNotifier(cfg SMTPConfig, branding string, retries int) *SMTPNotifier {
	if retries <= 0 {
		retries = defaultRetries
	}
	return &SMTPNotifier{
		cfg:      cfg,
		branding: branding,
		retries:  retries,
	}
}

// Deliver sends the code, retrying the full connect-authenticate-send
// sequence up to the configured budget before reporting failure.
func (n *SMTPNotifier) Deliver(ctx context.Context, recipient, code string) error {
	recipients, err := splitRecipients(recipient)
	if err != nil {
		return err
	}

	body := message(n.branding, code)
	msg := []byte(
		"From: " + n.cfg.From + "\r\n" +
			"To: " + recipient + "\r\n" +
			"Subject: " + body + "\r\n" +
			"\r\n" +
			body + "\r\n",
	)

	var lastErr error
	for attempt := 1; attempt <= n.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = n.send(ctx, recipients, msg); lastErr == nil {
			slog.Info("mail with security code sent", "recipient", recipient)
			return nil
		}
		slog.Warn("smtp delivery attempt failed", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("smtp delivery failed after %d attempts: %w", n.retries, lastErr)
}

// send performs one full connect-authenticate-send sequence.
func (n *SMTPNotifier) send(ctx context.Context, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}

	// Implicit TLS (port 465 style) when configured.
	if n.cfg.SSL {
		conn = tls.Client(conn, &tls.Config{ServerName: n.cfg.Host})
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("starting smtp session: %w", err)
	}
	defer func() { _ = client.Close() }()

	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("setting recipient: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("opening message body: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}

// Verify interface compliance.
var _ Notifier = (*SMTPNotifier)(nil)
