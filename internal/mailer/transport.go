package mailer

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/brightsend/campaign-dispatcher/pkg/logger"
)

// Transport performs the actual delivery of one rendered email. The
// contract is synchronous from the batch job's point of view.
type Transport interface {
	Send(ctx context.Context, to, from, subject, html string) error
}

// SMTPConfig for the outbound SMTP transport.
type SMTPConfig struct {
	Addr      string // host:port of the relay
	From      string
	HelloHost string
	Timeout   time.Duration
}

// SMTPTransport delivers mail through a single SMTP relay.
type SMTPTransport struct {
	config SMTPConfig
}

func NewSMTPTransport(config SMTPConfig) (*SMTPTransport, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("smtp addr is required")
	}
	if config.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HelloHost == "" {
		config.HelloHost = "localhost"
	}
	return &SMTPTransport{config: config}, nil
}

func (t *SMTPTransport) Send(ctx context.Context, to, from, subject, html string) error {
	if from == "" {
		from = t.config.From
	}

	dialer := &net.Dialer{Timeout: t.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.config.Addr)
	if err != nil {
		return fmt.Errorf("connection failed to %s: %w", t.config.Addr, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.config.Timeout)
	}
	_ = conn.SetDeadline(deadline)

	host, _, _ := net.SplitHostPort(t.config.Addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp client creation failed: %w", err)
	}
	defer client.Close()

	if err := client.Hello(t.config.HelloHost); err != nil {
		return fmt.Errorf("HELO failed: %w", err)
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO %s failed: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(buildMessage(to, from, subject, html)); err != nil {
		_ = w.Close()
		return fmt.Errorf("message write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message close failed: %w", err)
	}

	if err := client.Quit(); err != nil {
		logger.Debug("QUIT failed after accepted message", "error", err)
	}

	return nil
}

func buildMessage(to, from, subject, html string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	b.WriteString("\r\n")
	return []byte(b.String())
}
