// main wires the authentication engine: stores, caches, flows, gateway,
// and the HTTP server. Business logic lives in the internal packages;
// everything here is dependency selection and lifecycle.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tokenly/internal/audit"
	auditstore "tokenly/internal/audit/store"
	"tokenly/internal/auth"
	"tokenly/internal/authflow"
	"tokenly/internal/gateway"
	"tokenly/internal/hashing"
	"tokenly/internal/login"
	"tokenly/internal/notify"
	"tokenly/internal/platform/config"
	"tokenly/internal/platform/database"
	"tokenly/internal/platform/logger"
	"tokenly/internal/platform/metrics"
	redisplatform "tokenly/internal/platform/redis"
	"tokenly/internal/ratelimit"
	"tokenly/internal/secrets"
	"tokenly/internal/session"
	sessionstore "tokenly/internal/session/store"
	"tokenly/internal/tenant"
	tenantstore "tokenly/internal/tenant/store"
	"tokenly/internal/token"
	httptransport "tokenly/internal/transport/http"
	userstore "tokenly/internal/user/store"
	"tokenly/internal/workers/cleanup"
	"tokenly/migrations"
)

const tenantCacheTTL = 30 * time.Second

// userStore joins the lookup surfaces the auth service and the login
// handlers need. Both user store implementations satisfy it.
type userStore interface {
	auth.Users
	login.Users
}

// auditStore adds the retention delete the cleanup worker sweeps with.
type auditStore interface {
	audit.Store
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	log.Info("initializing tokenly",
		"addr", cfg.Addr,
		"database", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"kafka", cfg.KafkaBrokers != "",
	)

	pool, err := database.New(database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Migrate(context.Background(), migrations.FS); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	rdb, err := redisplatform.New(redisplatform.DefaultConfig(cfg.RedisURL))
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Store selection: postgres when configured, memory otherwise. Memory
	// backends satisfy the same contracts and suit development.
	var (
		tenants  tenantstore.TenantStore
		users    userStore
		sessions session.Store
		logs     auditStore
	)
	if pool != nil {
		db := pool.DB()
		tenants = tenantstore.NewPostgres(db)
		users = userstore.NewPostgres(db)
		sessions = sessionstore.NewPostgres(db)
		logs = auditstore.NewPostgres(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		tenants = tenantstore.NewMemory()
		users = userstore.NewMemory()
		sessions = sessionstore.NewMemory()
		logs = auditstore.NewMemory()
	}
	cachedTenants := tenantstore.NewCached(tenants, tenantCacheTTL)

	var (
		limiter      ratelimit.Limiter
		secretStore  secrets.Store
		sessionCache session.Cache = session.NoopCache{}
	)
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb)
		secretStore = secrets.NewRedis(rdb)
		sessionCache = session.NewRedisCache(rdb)
	} else {
		log.Warn("REDIS_URL not set, using in-process limiter and secret store")
		limiter = ratelimit.NewMemoryLimiter()
		secretStore = secrets.NewMemory()
	}

	var notifier notify.Sender
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTP(notify.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			From:        cfg.EmailFrom,
			FrontendURL: cfg.FrontendBaseURL,
			BackendURL:  cfg.BackendBaseURL,
		})
	} else {
		notifier = notify.NewConsole(log, cfg.BackendBaseURL, cfg.FrontendBaseURL)
	}

	sink, err := audit.NewKafkaSink(audit.KafkaConfig{Brokers: cfg.KafkaBrokers})
	if err != nil {
		log.Error("kafka init failed", "error", err)
		os.Exit(1)
	}
	recorderOpts := []audit.RecorderOption{audit.WithLogger(log)}
	if sink != nil {
		defer sink.Close()
		recorderOpts = append(recorderOpts, audit.WithSink(sink))
	}
	recorder := audit.NewRecorder(logs, recorderOpts...)
	defer recorder.Close()

	issuer := token.New(cfg.JWTSigningKey, cfg.AccessTokenTTL)
	sessionSvc := session.NewService(sessions, issuer, cfg.RefreshTokenTTL,
		session.WithCache(sessionCache),
		session.WithLogger(log),
		session.WithMetrics(m),
		session.WithRetention(cfg.CleanupRetention),
	)
	hashers := hashing.NewRegistry()

	handlers := login.NewRegistry()
	handlers.Register(tenant.MethodPassword, login.NewPasswordHandler(users, hashers, recorder))
	handlers.Register(tenant.MethodOTP, login.NewOtpHandler(users, secretStore, recorder))
	handlers.Register(tenant.MethodMagicLink, login.NewMagicLinkHandler(users, secretStore, recorder))
	handlers.Register(tenant.MethodOAuth, login.NewOAuthHandler(users, login.NewOIDCVerifier(login.GoogleIssuer), recorder))

	flows := authflow.NewRegistry()
	flows.Register(tenant.ModeJWT, authflow.NewJWTFlow(handlers, issuer, sessionSvc, cfg.AccessTokenTTL,
		authflow.WithJWTRecorder(recorder),
		authflow.WithJWTMetrics(m),
		authflow.WithJWTLogger(log)))
	flows.Register(tenant.ModeAPIToken, authflow.NewAPITokenFlow(handlers, issuer, cfg.AccessTokenTTL,
		authflow.WithAPITokenRecorder(recorder),
		authflow.WithAPITokenMetrics(m)))
	flows.Register(tenant.ModeSession, authflow.NewSessionConfirmFlow(handlers,
		authflow.WithSessionConfirmRecorder(recorder),
		authflow.WithSessionConfirmMetrics(m)))

	authSvc := auth.NewService(flows, sessionSvc, issuer, users, cachedTenants, secretStore, notifier, hashers,
		auth.TTLs{
			OTP:               cfg.OtpTTL,
			MagicLink:         cfg.MagicLinkTTL,
			VerificationToken: cfg.VerificationTokenTTL,
			PasswordReset:     cfg.PasswordResetTokenTTL,
			AccessToken:       cfg.AccessTokenTTL,
		},
		auth.WithLogger(log),
		auth.WithMetrics(m),
	)

	gw := gateway.New(cachedTenants, limiter,
		gateway.WithLogger(log),
		gateway.WithMetrics(m),
		gateway.WithDefaultLimit(cfg.DefaultRateLimitPerMinute),
	)

	handler := httptransport.NewHandler(authSvc, issuer, cachedTenants, log)
	router := httptransport.NewRouter(handler, gw.Middleware, m, log)

	sweeper, err := cleanup.New(sessionSvc, logs,
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithLogger(log),
	)
	if err != nil {
		log.Error("cleanup init failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				pool.RecordPoolStats()
				if rdb != nil {
					rdb.RecordPoolStats()
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
