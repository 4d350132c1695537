// Package mailer delivers account verification emails over SMTP.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Config holds the outbound SMTP settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromName    string
	FromAddress string
	// BaseURL is the public-facing frontend URL verification links point at.
	BaseURL string
}

// SMTP sends verification emails through an SMTP relay. When credentials are
// not configured it degrades to a logged no-op so registration keeps working
// in development environments.
type SMTP struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs an SMTP mailer.
func New(cfg Config, logger *slog.Logger) *SMTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{cfg: cfg, logger: logger}
}

// Configured reports whether SMTP credentials are present.
func (m *SMTP) Configured() bool {
	return m.cfg.Username != "" && m.cfg.Password != ""
}

// VerificationURL builds the link embedded in the verification email.
func (m *SMTP) VerificationURL(token string) string {
	return strings.TrimRight(m.cfg.BaseURL, "/") + "/#/verify-email/" + token
}

// SendVerificationEmail delivers the verification mail for the given account.
func (m *SMTP) SendVerificationEmail(ctx context.Context, email, name, token string) error {
	if !m.Configured() {
		m.logger.Warn("email credentials not configured, skipping verification email", "to", email)
		return nil
	}

	verificationURL := m.VerificationURL(token)

	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.FromAddress); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(email); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject("Verify your email")
	msg.SetBodyString(mail.TypeTextPlain, verificationText(name, m.cfg.FromName, verificationURL))
	msg.AddAlternativeString(mail.TypeTextHTML, verificationHTML(name, m.cfg.FromName, verificationURL))

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}

	m.logger.Info("verification email sent", "to", email)
	return nil
}

func verificationText(name, product, verificationURL string) string {
	return fmt.Sprintf(`Hello %s,

Thank you for registering with %s! To complete your registration and activate your account, please verify your email address by clicking the link below:

%s

This verification link will expire in 24 hours.

If the link doesn't work, copy and paste it into your browser's address bar.

If you didn't create an account with %s, please ignore this email.

Best regards,
%s Team
`, name, product, verificationURL, product, product)
}

func verificationHTML(name, product, verificationURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Verify your email</title></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; color: #333333; background-color: #f5f5f5; margin: 0; padding: 40px 20px;">
  <table width="600" align="center" cellpadding="0" cellspacing="0" style="background-color: #ffffff; border-radius: 8px;">
    <tr>
      <td style="background: linear-gradient(135deg, #4a90e2 0%%, #357abd 100%%); padding: 40px 30px; text-align: center;">
        <h1 style="color: #ffffff; margin: 0; font-size: 28px;">Email Verification</h1>
      </td>
    </tr>
    <tr>
      <td style="padding: 40px 30px;">
        <p style="font-size: 16px;">Hello %s,</p>
        <p style="font-size: 16px;">Thank you for registering with %s! To complete your registration and activate your account, please verify your email address by clicking the button below:</p>
        <p style="text-align: center; padding: 30px 0;">
          <a href="%s" style="display: inline-block; background: linear-gradient(135deg, #4a90e2 0%%, #357abd 100%%); color: #ffffff; padding: 14px 32px; text-decoration: none; border-radius: 6px; font-weight: 600;">Verify Email Address</a>
        </p>
        <p style="font-size: 14px; color: #666666;">If the button doesn't work, copy and paste this link into your browser:</p>
        <p style="word-break: break-all; font-size: 13px; color: #4a90e2; font-family: monospace;">%s</p>
        <p style="border-top: 1px solid #e5e5e5; padding-top: 20px; font-size: 13px; color: #999999;">This verification link will expire in 24 hours. If you didn't create an account with %s, please ignore this email.</p>
      </td>
    </tr>
  </table>
</body>
</html>`, name, product, verificationURL, verificationURL, product)
}
