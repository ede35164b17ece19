package email

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/account-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg     *config.Config
	logger  *logrus.Logger
	deliver func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
	}
	s.deliver = s.sendSMTP
	return s
}

// SendPasswordReset sends the password reset link to a user
func (s *Sender) SendPasswordReset(_ context.Context, to, username, link string) error {
	e := s.passwordResetEmail(to, username, link)

	if err := s.deliver(e); err != nil {
		s.logger.Errorf("Failed to send password reset email to %s: %v", to, err)
		return fmt.Errorf("failed to send password reset email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

func (s *Sender) passwordResetEmail(to, username, link string) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Password Reset Request"

	body := fmt.Sprintf("Dear %s,\n\n", username)
	body += fmt.Sprintf(
		"To reset your password, visit the following link:\n%s\n\n"+
			"The link is valid for %s.\n"+
			"If you did not make this request then simply ignore this email and no changes will be made.\n",
		link, formatValidity(s.cfg.ResetTokenTTL),
	)
	body += "\nBest regards,\nAccount Service"
	e.Text = []byte(body)
	return e
}

func (s *Sender) sendSMTP(e *email.Email) error {
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	return e.Send(s.cfg.SMTPAddr(), auth)
}

func formatValidity(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hour(s)", int(d/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
