// Package notify delivers transactional auth email on behalf of tenant
// applications: verification links, password resets, OTP codes, magic
// links. The console sender logs instead of sending and backs development
// and tests; SMTP is the production binding.
package notify

import "context"

// Sender delivers tenant-branded auth messages. appName is the tenant's
// display name, used in subjects and bodies.
type Sender interface {
	SendVerification(ctx context.Context, to, token, appName string) error
	SendPasswordReset(ctx context.Context, to, token, appName string) error
	SendWelcome(ctx context.Context, to, appName string) error
	SendOTP(ctx context.Context, to, code, appName string) error
	SendMagicLink(ctx context.Context, to, token, appID, appName string) error
}
