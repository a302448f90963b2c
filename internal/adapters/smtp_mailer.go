package adapters

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/danielmoisemontezima/splits-payment-service/internal/config"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

var wrapTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body></html>`))

// WrapMessage renders the title and message into the admin email body.
func WrapMessage(title, message string) (string, error) {
	var buf bytes.Buffer
	if err := wrapTemplate.Execute(&buf, struct{ Title, Message string }{title, message}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type SMTPMailer struct {
	cfg config.SMTPConfig
	log *slog.Logger
}

func NewSMTPMailer(cfg config.SMTPConfig, log *slog.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, log: log}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, title, message string) error {
	body, err := WrapMessage(title, message)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("email from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("email to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	opts := []mail.Option{mail.WithPort(m.cfg.Port)}
	if m.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.cfg.Timeout))
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	m.log.Info("admin email sent", "to", to, "subject", subject)
	return nil
}

// LogMailer writes emails to the log when SMTP is not configured.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, to, subject, title, message string) error {
	m.log.Warn("smtp not configured, email not delivered", "to", to, "subject", subject, "title", title, "message", message)
	return nil
}

var (
	_ ports.Mailer = (*SMTPMailer)(nil)
	_ ports.Mailer = (*LogMailer)(nil)
)
