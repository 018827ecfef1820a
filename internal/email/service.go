package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/google/uuid"

	"github.com/staffdesk/staffdesk/internal/logging"
)

// Service sends transactional mail over SMTP. Sends are best-effort: callers
// run them in goroutines and only log failures.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
	baseURL      string
}

func NewService(smtpHost, smtpPort, smtpUser, smtpPassword, baseURL string) *Service {
	return &Service{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    smtpUser,
		baseURL:      baseURL,
	}
}

// SendVerificationEmail mails the account activation link.
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, username string, token uuid.UUID) error {
	logger := logging.GetLoggerFromContext(ctx)

	verifyLink := fmt.Sprintf("%s/verify-email/%s", s.baseURL, token)

	subject := "Verify your email"
	body := fmt.Sprintf(
		"Hi %s,\n\nClick the link to verify your email:\n%s\n\nThis link expires in 24 hours.",
		username, verifyLink,
	)

	if err := s.Send(subject, body, []string{toEmail}); err != nil {
		logger.Error("failed to send verification email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("verification email sent", "email", toEmail)
	return nil
}

// SendResetOTP mails a password reset code.
func (s *Service) SendResetOTP(ctx context.Context, toEmail, username, code string) error {
	logger := logging.GetLoggerFromContext(ctx)

	subject := "Your password reset OTP"
	body := fmt.Sprintf(
		"Hi %s,\n\nYour OTP is: %s\nIt expires in 15 minutes.",
		username, code,
	)

	if err := s.Send(subject, body, []string{toEmail}); err != nil {
		logger.Error("failed to send reset OTP email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("reset OTP email sent", "email", toEmail)
	return nil
}

// Send delivers a plain-text message to the recipients.
func (s *Service) Send(subject, body string, recipients []string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	for _, to := range recipients {
		msg := []byte(fmt.Sprintf(
			"From: %s\r\n"+
				"To: %s\r\n"+
				"Subject: %s\r\n"+
				"MIME-Version: 1.0\r\n"+
				"Content-Type: text/plain; charset=UTF-8\r\n"+
				"\r\n"+
				"%s\r\n",
			s.fromEmail, to, subject, body,
		))

		addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
		if err := smtp.SendMail(addr, auth, s.fromEmail, []string{to}, msg); err != nil {
			return err
		}
	}

	return nil
}
