package auth

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strings"
)

// Mailer delivers transactional e-mail. Sends are best effort and never
// part of a request's outcome.
type Mailer interface {
	SendWelcome(ctx context.Context, email, firstName string) error
	SendNotification(ctx context.Context, email, subject, htmlBody string) error
}

type SMTPMailer struct {
	host string
	port int
	user string
	pass string
	from string
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// NewSMTPMailer returns nil when SMTP is not configured.
func NewSMTPMailer(cfg SMTPConfig) Mailer {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPMailer{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
	}
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, email, firstName string) error {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "User"
	}
	body := fmt.Sprintf(
		"<h1>Mirë se erdhe, %s!</h1><p>Llogaria jote në eTesti është gati. Mund të fillosh provimet e tua tani.</p>",
		html.EscapeString(name),
	)
	return m.send(ctx, email, "Mirë se erdhe në eTesti", body)
}

func (m *SMTPMailer) SendNotification(ctx context.Context, email, subject, htmlBody string) error {
	return m.send(ctx, email, subject, htmlBody)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(m.from, to, subject, htmlBody)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send %q: %w", subject, err)
	}
	return nil
}

// buildMessage renders a multipart/alternative message with a plain-text
// part derived from the HTML body.
func buildMessage(from, to, subject, htmlBody string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{contentType: "text/plain; charset=UTF-8", content: stripHTML(htmlBody)},
		{contentType: "text/html; charset=UTF-8", content: htmlBody},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}

	var msg bytes.Buffer
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: multipart/alternative; boundary=" + mw.Boundary() + "\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blockBoundary = regexp.MustCompile(`(?i)</(p|h[1-6]|div|li)>|<br\s*/?>`)
)

func stripHTML(s string) string {
	s = blockBoundary.ReplaceAllString(s, "\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
