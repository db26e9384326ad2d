package notify

import (
	"context"
	"log/slog"
)

// Console logs messages instead of delivering them. URLs point at the
// configured frontend base so magic links and reset links are clickable
// straight from the log during development.
type Console struct {
	logger      *slog.Logger
	backendURL  string
	frontendURL string
}

// NewConsole builds a console sender. Base URLs may be empty; links then
// render as bare paths.
func NewConsole(logger *slog.Logger, backendURL, frontendURL string) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger, backendURL: backendURL, frontendURL: frontendURL}
}

func (c *Console) SendVerification(_ context.Context, to, token, appName string) error {
	c.logger.Info("verification email (not sent)",
		"to", to,
		"app", appName,
		"link", c.backendURL+"/api/auth/verify-email?token="+token)
	return nil
}

func (c *Console) SendPasswordReset(_ context.Context, to, token, appName string) error {
	c.logger.Info("password reset email (not sent)",
		"to", to,
		"app", appName,
		"link", c.frontendURL+"/auth/reset-password?token="+token)
	return nil
}

func (c *Console) SendWelcome(_ context.Context, to, appName string) error {
	c.logger.Info("welcome email (not sent)", "to", to, "app", appName)
	return nil
}

func (c *Console) SendOTP(_ context.Context, to, code, appName string) error {
	c.logger.Info("otp email (not sent)", "to", to, "app", appName, "code", code)
	return nil
}

func (c *Console) SendMagicLink(_ context.Context, to, token, appID, appName string) error {
	c.logger.Info("magic link email (not sent)",
		"to", to,
		"app", appName,
		"link", c.frontendURL+"/auth/verify?token="+token+"&appId="+appID)
	return nil
}
