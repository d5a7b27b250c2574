package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 基于 SMTP 的邮件发送实现。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件发送器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendResetCode 发送密码重置验证码邮件。
func (n *EmailNotifier) SendResetCode(toEmail string, name string, code string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	if name == "" {
		name = toEmail
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "Your OTP for Secure Task Manager password reset")

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Secure Task Manager</h2>
    <p>Hello %s,</p>
    <p>Your password reset OTP is:</p>
    <div style="font-size: 28px; font-weight: bold; letter-spacing: 3px;">%s</div>
    <p>It expires in 10 minutes.</p>
    <p>If you didn't request this, ignore this email.</p>
  </div>
</body>
</html>`, name, code)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("reset code email sent", slog.String("to", toEmail))
	return nil
}
