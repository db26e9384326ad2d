package login_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenly/internal/hashing"
	"tokenly/internal/login"
	"tokenly/internal/secrets"
	"tokenly/internal/tenant"
	"tokenly/internal/user"
	userstore "tokenly/internal/user/store"
	"tokenly/pkg/domainerrors"
)

type recordedFailure struct {
	email  string
	reason string
}

type fakeRecorder struct {
	failures []recordedFailure
}

func (r *fakeRecorder) RecordFailure(_ context.Context, _ uuid.UUID, email, _, _, reason string) {
	r.failures = append(r.failures, recordedFailure{email: email, reason: reason})
}

func (r *fakeRecorder) lastReason() string {
	if len(r.failures) == 0 {
		return ""
	}
	return r.failures[len(r.failures)-1].reason
}

type fakeVerifier struct {
	email string
	err   error
}

func (v *fakeVerifier) VerifyIdentity(context.Context, string, string) (string, error) {
	return v.email, v.err
}

func seedTenant() (*tenant.Application, *tenant.AuthConfig) {
	app := &tenant.Application{ID: uuid.New(), Status: tenant.AppActive}
	return app, tenant.DefaultAuthConfig(app.ID)
}

func seedUser(t *testing.T, users *userstore.Memory, appID uuid.UUID, email, password string) *user.User {
	t.Helper()
	u := &user.User{
		ID:            uuid.New(),
		ApplicationID: appID,
		Email:         email,
		EmailVerified: true,
		Status:        user.StatusActive,
		CreatedAt:     time.Now(),
	}
	if password != "" {
		hash, err := hashing.NewRegistry().For(tenant.HashBcrypt).Hash(password)
		require.NoError(t, err)
		u.PasswordHash = hash
	}
	require.NoError(t, users.Save(context.Background(), u))
	return u
}

func TestPasswordHandler(t *testing.T) {
	users := userstore.NewMemory()
	rec := &fakeRecorder{}
	h := login.NewPasswordHandler(users, hashing.NewRegistry(), rec)
	app, cfg := seedTenant()
	seeded := seedUser(t, users, app.ID, "alice@acme.test", "hunter2!")
	ctx := context.Background()

	u, err := h.Authenticate(ctx, app, cfg, &login.Request{Email: "alice@acme.test", Password: "hunter2!"})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, u.ID)
	assert.Empty(t, rec.failures)

	_, err = h.Authenticate(ctx, app, cfg, &login.Request{Email: "alice@acme.test", Password: "wrong"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	assert.Equal(t, login.ReasonInvalidPassword, rec.lastReason())

	_, err = h.Authenticate(ctx, app, cfg, &login.Request{Email: "nobody@acme.test", Password: "hunter2!"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	assert.Equal(t, login.ReasonUserNotFound, rec.lastReason())
}

func TestPasswordHandlerEmailVerificationRequired(t *testing.T) {
	users := userstore.NewMemory()
	rec := &fakeRecorder{}
	h := login.NewPasswordHandler(users, hashing.NewRegistry(), rec)
	app, cfg := seedTenant()
	cfg.EmailVerificationRequired = true

	u := seedUser(t, users, app.ID, "alice@acme.test", "hunter2!")
	u.EmailVerified = false
	require.NoError(t, users.Save(context.Background(), u))

	_, err := h.Authenticate(context.Background(), app, cfg, &login.Request{Email: "alice@acme.test", Password: "hunter2!"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	assert.Equal(t, login.ReasonEmailNotVerified, rec.lastReason())
}

func TestPasswordHandlerPasswordlessUser(t *testing.T) {
	users := userstore.NewMemory()
	h := login.NewPasswordHandler(users, hashing.NewRegistry(), &fakeRecorder{})
	app, cfg := seedTenant()
	seedUser(t, users, app.ID, "oauth-only@acme.test", "")

	_, err := h.Authenticate(context.Background(), app, cfg, &login.Request{Email: "oauth-only@acme.test", Password: "anything"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
}

func TestOtpHandler(t *testing.T) {
	users := userstore.NewMemory()
	codes := secrets.NewMemory()
	rec := &fakeRecorder{}
	h := login.NewOtpHandler(users, codes, rec)
	app, cfg := seedTenant()
	cfg.LoginMethod = tenant.MethodOTP
	seeded := seedUser(t, users, app.ID, "alice@acme.test", "")
	ctx := context.Background()

	require.NoError(t, codes.Put(ctx, secrets.PurposeOTP, app.ID, "alice@acme.test", "482913", 5*time.Minute))

	u, err := h.Authenticate(ctx, app, cfg, &login.Request{Email: "alice@acme.test", OtpCode: "482913"})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, u.ID)

	// Single use: the same code fails the second time.
	_, err = h.Authenticate(ctx, app, cfg, &login.Request{Email: "alice@acme.test", OtpCode: "482913"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	assert.Equal(t, login.ReasonInvalidOTP, rec.lastReason())
}

func TestOtpHandlerWrongGuessDoesNotBurnCode(t *testing.T) {
	users := userstore.NewMemory()
	codes := secrets.NewMemory()
	h := login.NewOtpHandler(users, codes, &fakeRecorder{})
	app, cfg := seedTenant()
	u := seedUser(t, users, app.ID, "alice@acme.test", "")
	ctx := context.Background()

	require.NoError(t, codes.Put(ctx, secrets.PurposeOTP, app.ID, "alice@acme.test", "482913", 5*time.Minute))

	_, err := h.Authenticate(ctx, app, cfg, &login.Request{Email: "alice@acme.test", OtpCode: "000000"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))

	// The failed guess left the code in place for the legitimate attempt.
	got, err := h.Authenticate(ctx, app, cfg, &login.Request{Email: "alice@acme.test", OtpCode: "482913"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	// The match consumed it; the same code cannot log in twice.
	_, err = h.Authenticate(ctx, app, cfg, &login.Request{Email: "alice@acme.test", OtpCode: "482913"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
}

func TestOtpHandlerMissingCode(t *testing.T) {
	h := login.NewOtpHandler(userstore.NewMemory(), secrets.NewMemory(), &fakeRecorder{})
	app, cfg := seedTenant()

	_, err := h.Authenticate(context.Background(), app, cfg, &login.Request{Email: "alice@acme.test"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
}

func TestMagicLinkHandler(t *testing.T) {
	users := userstore.NewMemory()
	tokens := secrets.NewMemory()
	rec := &fakeRecorder{}
	h := login.NewMagicLinkHandler(users, tokens, rec)
	app, cfg := seedTenant()
	cfg.LoginMethod = tenant.MethodMagicLink
	seeded := seedUser(t, users, app.ID, "alice@acme.test", "")
	ctx := context.Background()

	linkToken := uuid.NewString()
	require.NoError(t, tokens.Put(ctx, secrets.PurposeMagicLink, app.ID, linkToken, "alice@acme.test", 15*time.Minute))

	u, err := h.Authenticate(ctx, app, cfg, &login.Request{MagicLinkToken: linkToken})
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, u.ID)

	_, err = h.Authenticate(ctx, app, cfg, &login.Request{MagicLinkToken: linkToken})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	assert.Equal(t, login.ReasonInvalidMagicLink, rec.lastReason())
}

func TestOAuthHandlerCreatesUser(t *testing.T) {
	users := userstore.NewMemory()
	h := login.NewOAuthHandler(users, &fakeVerifier{email: "new@acme.test"}, &fakeRecorder{})
	app, cfg := seedTenant()
	cfg.LoginMethod = tenant.MethodOAuth
	ctx := context.Background()

	u, err := h.Authenticate(ctx, app, cfg, &login.Request{ProviderToken: "provider-token"})
	require.NoError(t, err)
	assert.Equal(t, "new@acme.test", u.Email)
	assert.True(t, u.EmailVerified)
	assert.Empty(t, u.PasswordHash)
	assert.Equal(t, user.StatusActive, u.Status)

	// Second login resolves the same user.
	again, err := h.Authenticate(ctx, app, cfg, &login.Request{ProviderToken: "provider-token"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)
}

func TestOAuthHandlerVerificationFailure(t *testing.T) {
	rec := &fakeRecorder{}
	h := login.NewOAuthHandler(userstore.NewMemory(),
		&fakeVerifier{err: domainerrors.New(domainerrors.CodeUnauthorized, "identity token rejected")}, rec)
	app, cfg := seedTenant()

	_, err := h.Authenticate(context.Background(), app, cfg, &login.Request{ProviderToken: "bad"})
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthorized))
	assert.Equal(t, login.ReasonOAuthRejected, rec.lastReason())
}

func TestRegistry(t *testing.T) {
	r := login.NewRegistry()
	h := login.NewPasswordHandler(userstore.NewMemory(), hashing.NewRegistry(), nil)
	r.Register(tenant.MethodPassword, h)

	got, err := r.For(tenant.MethodPassword)
	require.NoError(t, err)
	assert.Equal(t, login.Handler(h), got)

	_, err = r.For(tenant.MethodOAuth)
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeInternal), "unbound method is a config error")
}
