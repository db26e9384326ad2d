package httptransport_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenly/internal/auth"
	"tokenly/internal/authflow"
	"tokenly/internal/gateway"
	"tokenly/internal/hashing"
	"tokenly/internal/login"
	"tokenly/internal/notify"
	"tokenly/internal/ratelimit"
	"tokenly/internal/secrets"
	"tokenly/internal/session"
	sessionstore "tokenly/internal/session/store"
	"tokenly/internal/tenant"
	tenantstore "tokenly/internal/tenant/store"
	"tokenly/internal/token"
	httptransport "tokenly/internal/transport/http"
	userstore "tokenly/internal/user/store"
	"tokenly/pkg/tokenhash"
)

const (
	testSigningKey = "transport-test-key"
	testAccessTTL  = time.Hour
	testRefreshTTL = 30 * 24 * time.Hour
)

// fixture wires the whole stack on memory backends behind a real router.
type fixture struct {
	server    *httptest.Server
	app       *tenant.Application
	publicKey string
	users     *userstore.Memory
	issuer    *token.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tenants := tenantstore.NewMemory()
	app := &tenant.Application{ID: uuid.New(), Name: "Acme", Status: tenant.AppActive, CreatedAt: time.Now()}
	require.NoError(t, tenants.SaveApplication(t.Context(), app))

	secret := tenant.NewSecretKeyValue()
	key := &tenant.Key{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		Name:          "default",
		PublicKey:     tenant.NewPublicKeyValue(),
		SecretKeyHash: tokenhash.Hash(secret),
		Active:        true,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, tenants.SaveKey(t.Context(), key))

	users := userstore.NewMemory()
	secretStore := secrets.NewMemory()
	issuer := token.New(testSigningKey, testAccessTTL)
	sessions := session.NewService(sessionstore.NewMemory(), issuer, testRefreshTTL)
	hashers := hashing.NewRegistry()

	handlers := login.NewRegistry()
	handlers.Register(tenant.MethodPassword, login.NewPasswordHandler(users, hashers, nil))
	handlers.Register(tenant.MethodOTP, login.NewOtpHandler(users, secretStore, nil))
	handlers.Register(tenant.MethodMagicLink, login.NewMagicLinkHandler(users, secretStore, nil))

	flows := authflow.NewRegistry()
	flows.Register(tenant.ModeJWT, authflow.NewJWTFlow(handlers, issuer, sessions, testAccessTTL))
	flows.Register(tenant.ModeAPIToken, authflow.NewAPITokenFlow(handlers, issuer, testAccessTTL))
	flows.Register(tenant.ModeSession, authflow.NewSessionConfirmFlow(handlers))

	svc := auth.NewService(flows, sessions, issuer, users, tenants, secretStore,
		notify.NewConsole(logger, "", ""), hashers, auth.TTLs{},
		auth.WithLogger(logger))

	gw := gateway.New(tenants, ratelimit.NewMemoryLimiter(), gateway.WithLogger(logger))
	h := httptransport.NewHandler(svc, issuer, tenants, logger)
	router := httptransport.NewRouter(h, gw.Middleware, nil, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &fixture{
		server:    server,
		app:       app,
		publicKey: key.PublicKey,
		users:     users,
		issuer:    issuer,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.server.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set(gateway.HeaderAPIKey, f.publicKey)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func (f *fixture) signupAndLogin(t *testing.T, email, password string) (accessToken, refreshToken string) {
	t.Helper()
	resp, _ := f.do(t, http.MethodPost, "/api/auth/signup", map[string]any{
		"email": email, "password": password,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": email, "password": password,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accessToken, _ = body["accessToken"].(string)
	refreshToken, _ = body["refreshToken"].(string)
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, refreshToken)
	return accessToken, refreshToken
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestMissingAPIKeyRejected(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/auth/app-info", nil)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthOpen(t *testing.T) {
	f := newFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAppInfo(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/auth/app-info", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Acme", body["appName"])
	assert.Equal(t, "JWT", body["authMode"])
	assert.Equal(t, "PASSWORD", body["loginMethod"])
	assert.Equal(t, true, body["signupEnabled"])
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/auth/signup", map[string]any{
		"email": "not-an-email", "password": "hunter2!!",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["error"])

	resp, _ = f.do(t, http.MethodPost, "/api/auth/signup", map[string]any{
		"email": "alice@acme.test", "password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignupConflict(t *testing.T) {
	f := newFixture(t)
	f.signupAndLogin(t, "alice@acme.test", "hunter2!!")

	resp, body := f.do(t, http.MethodPost, "/api/auth/signup", map[string]any{
		"email": "alice@acme.test", "password": "hunter2!!",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", body["error"])
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.signupAndLogin(t, "alice@acme.test", "hunter2!!")

	resp, body := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": "alice@acme.test", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)
	_, refreshToken := f.signupAndLogin(t, "alice@acme.test", "hunter2!!")

	resp, body := f.do(t, http.MethodPost, "/api/auth/refresh", nil, bearer(refreshToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next, _ := body["refreshToken"].(string)
	assert.NotEmpty(t, next)
	assert.NotEqual(t, refreshToken, next)

	// Replaying the rotated-out token is reuse: the family is revoked and
	// the fresh token no longer works either.
	resp, body = f.do(t, http.MethodPost, "/api/auth/refresh", nil, bearer(refreshToken))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "reuse_detected", body["error"])

	resp, _ = f.do(t, http.MethodPost, "/api/auth/refresh", nil, bearer(next))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutKillsRefreshToken(t *testing.T) {
	f := newFixture(t)
	_, refreshToken := f.signupAndLogin(t, "alice@acme.test", "hunter2!!")

	resp, _ := f.do(t, http.MethodPost, "/api/auth/logout", nil, bearer(refreshToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/auth/refresh", nil, bearer(refreshToken))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionsAndLogoutAll(t *testing.T) {
	f := newFixture(t)
	accessToken, _ := f.signupAndLogin(t, "alice@acme.test", "hunter2!!")
	// Second login opens a second session.
	resp, _ := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": "alice@acme.test", "password": "hunter2!!",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/auth/sessions", nil, bearer(accessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions, _ := body["sessions"].([]any)
	assert.Len(t, sessions, 2)

	resp, body = f.do(t, http.MethodPost, "/api/auth/logout-all", nil, bearer(accessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["sessionsRevoked"])

	resp, body = f.do(t, http.MethodGet, "/api/auth/sessions", nil, bearer(accessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions, _ = body["sessions"].([]any)
	assert.Empty(t, sessions)
}

func TestVerifyEmailEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/auth/signup", map[string]any{
		"email": "alice@acme.test", "password": "hunter2!!",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	u, err := f.users.FindByEmail(t.Context(), f.app.ID, "alice@acme.test")
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/auth/verify-email?token="+u.VerificationToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["emailVerified"])

	resp, _ = f.do(t, http.MethodGet, "/api/auth/verify-email?token="+u.VerificationToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPasswordResetEndpoints(t *testing.T) {
	f := newFixture(t)
	f.signupAndLogin(t, "alice@acme.test", "hunter2!!")

	resp, _ := f.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]any{
		"email": "alice@acme.test",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	u, err := f.users.FindByEmail(t.Context(), f.app.ID, "alice@acme.test")
	require.NoError(t, err)
	require.NotEmpty(t, u.PasswordResetToken)

	resp, _ = f.do(t, http.MethodPost, "/api/auth/reset-password", map[string]any{
		"token": u.PasswordResetToken, "newPassword": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": "alice@acme.test", "password": "correct-horse",
	}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProfileRoundTrip(t *testing.T) {
	f := newFixture(t)
	accessToken, _ := f.signupAndLogin(t, "alice@acme.test", "hunter2!!")

	resp, body := f.do(t, http.MethodGet, "/api/auth/profile", nil, bearer(accessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice@acme.test", body["email"])

	resp, body = f.do(t, http.MethodPut, "/api/auth/profile", map[string]any{
		"customData": map[string]any{"plan": "pro"},
	}, bearer(accessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	custom, _ := body["customData"].(map[string]any)
	assert.Equal(t, "pro", custom["plan"])
}

func TestProfileRequiresValidToken(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/auth/profile", nil, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/auth/profile", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
