package services

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

type MailerConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Mailer sends transactional email over SMTP.
type Mailer struct {
	config MailerConfig
	log    *slog.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(config MailerConfig, logger *slog.Logger) *Mailer {
	return &Mailer{config: config, log: logger, send: smtp.SendMail}
}

func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

func (m *Mailer) SendPasswordReset(to, link string) error {
	body := fmt.Sprintf("Recebemos um pedido para redefinir sua senha.\r\n\r\nAcesse: %s\r\n\r\nSe você não fez este pedido, ignore este e-mail.\r\n", link)
	return m.deliver(to, "Redefinição de senha", body)
}

func (m *Mailer) deliver(to, subject, body string) error {
	if !m.IsConfigured() {
		m.log.Warn("email not configured, message dropped", "to", to, "subject", subject)
		return nil
	}
	msg := []byte(strings.Join([]string{
		"To: " + to,
		"From: " + m.config.From,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n"))

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}
	if err := m.send(m.config.Host+":"+m.config.Port, auth, m.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
