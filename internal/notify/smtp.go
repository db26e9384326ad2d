package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig carries the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// FrontendURL and BackendURL are the link bases embedded in message
	// bodies.
	FrontendURL string
	BackendURL  string
}

// SMTP delivers mail through a relay using PLAIN auth. Messages are plain
// text; tenants wanting branded HTML run their own delivery off the login
// event stream.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP builds an SMTP sender.
func NewSMTP(cfg SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg, send: smtp.SendMail}
}

func (s *SMTP) SendVerification(ctx context.Context, to, token, appName string) error {
	subject := "Verify your email for " + appName
	body := fmt.Sprintf("Confirm your email address for %s by opening:\r\n\r\n%s/api/auth/verify-email?token=%s\r\n\r\nThe link expires in 24 hours.\r\n",
		appName, s.cfg.BackendURL, token)
	return s.deliver(ctx, to, subject, body)
}

func (s *SMTP) SendPasswordReset(ctx context.Context, to, token, appName string) error {
	subject := "Reset your password for " + appName
	body := fmt.Sprintf("Reset your %s password by opening:\r\n\r\n%s/auth/reset-password?token=%s\r\n\r\nIf you did not request this, ignore this message.\r\n",
		appName, s.cfg.FrontendURL, token)
	return s.deliver(ctx, to, subject, body)
}

func (s *SMTP) SendWelcome(ctx context.Context, to, appName string) error {
	subject := "Welcome to " + appName
	body := fmt.Sprintf("Your email address is verified. Welcome to %s.\r\n", appName)
	return s.deliver(ctx, to, subject, body)
}

func (s *SMTP) SendOTP(ctx context.Context, to, code, appName string) error {
	subject := code + " is your " + appName + " verification code"
	body := fmt.Sprintf("Your %s login code is %s. It expires in a few minutes.\r\n", appName, code)
	return s.deliver(ctx, to, subject, body)
}

func (s *SMTP) SendMagicLink(ctx context.Context, to, token, appID, appName string) error {
	subject := "Your " + appName + " sign-in link"
	body := fmt.Sprintf("Sign in to %s by opening:\r\n\r\n%s/auth/verify?token=%s&appId=%s\r\n\r\nThe link works once.\r\n",
		appName, s.cfg.FrontendURL, token, appID)
	return s.deliver(ctx, to, subject, body)
}

func (s *SMTP) deliver(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(addr, auth, s.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
