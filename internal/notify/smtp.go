package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
)

// SMTPConfig describes a mail relay and the envelope of every message.
type SMTPConfig struct {
	Server   string // host:port
	From     string
	To       []string
	Cc       []string
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPProvider sends notifications as plain-text mail.
type SMTPProvider struct {
	cfg       SMTPConfig
	tlsConfig *tls.Config
}

// NewSMTP creates a new mail notification provider. When a username is set
// the connection is upgraded with STARTTLS and authenticated with PLAIN.
func NewSMTP(cfg SMTPConfig) *SMTPProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	host, _, _ := net.SplitHostPort(cfg.Server)
	return &SMTPProvider{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: host},
	}
}

func (s *SMTPProvider) Name() string { return "smtp" }

func (s *SMTPProvider) Send(ctx context.Context, n model.Notification) error {
	msg, err := buildMessage(s.cfg.From, s.cfg.To, s.cfg.Cc, n)
	if err != nil {
		return fmt.Errorf("smtp: build message: %w", err)
	}

	host, _, err := net.SplitHostPort(s.cfg.Server)
	if err != nil {
		return fmt.Errorf("smtp: invalid server %q: %w", s.cfg.Server, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.cfg.Server)
	if err != nil {
		return fmt.Errorf("smtp: dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp: greeting: %w", err)
	}
	defer c.Close()

	if s.cfg.Username != "" {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp: server does not support STARTTLS, refusing to send credentials")
		}
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return fmt.Errorf("smtp: starttls: %w", err)
		}
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range recipients(s.cfg.To, s.cfg.Cc) {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("smtp: quit: %w", err)
	}
	return nil
}

func recipients(to, cc []string) []string {
	out := make([]string, 0, len(to)+len(cc))
	out = append(out, to...)
	return append(out, cc...)
}

// buildMessage renders a UTF-8 plain-text message with CRLF line endings.
func buildMessage(from string, to, cc []string, n model.Notification) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	header("From", from)
	header("To", strings.Join(to, ", "))
	if len(cc) > 0 {
		header("Cc", strings.Join(cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", n.Subject))
	header("Date", ts.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	if n.Kind != "" {
		header("X-Diskstats-Kind", n.Kind)
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	body := strings.ReplaceAll(n.Body, "\r\n", "\n")
	if _, err := qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
