package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Dxstvn/realestatecrypto-sub008/config"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/audit"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/handler"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/identity"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/limiter"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/middleware"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/penalty"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/storage"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/storage/memory"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/storage/redis"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/storage/ristretto"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the throttling HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		// Not fatal: the failover store serves from local counters and
		// retries Redis once its circuit breaker cools down.
		logger.Warn("redis unreachable at startup, using local counters until it returns",
			"addr", cfg.Redis.Addr,
			"error", err,
		)
	} else {
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	remote := redis.NewRedisStore(rdb, redis.WithTimeout(cfg.Redis.Timeout))

	windows := storage.NewFailover(remote,
		memory.NewMemoryStore(cfg.LocalCacheSize),
		logger.With("store", "windows"),
	)

	violationCache, err := ristretto.NewRistrettoStore(int64(cfg.LocalCacheSize))
	if err != nil {
		return fmt.Errorf("violation cache: %w", err)
	}
	defer violationCache.Close()
	violations := storage.NewFailover(remote, violationCache, logger.With("store", "violations"))

	resolver := identity.NewResolver(identity.Options{
		TrustedProxyHeader: cfg.TrustedProxyHeader,
		Production:         cfg.Production(),
		Allowlist:          cfg.Allowlist,
	})

	tracker := penalty.NewTracker(violations, logger)
	lim := limiter.NewLimiter(windows, resolver, logger, limiter.WithPenalties(tracker))

	policies := limiter.DefaultPolicies()
	audits := audit.NewRecorder(logger)
	for _, p := range policies.All() {
		p.OnDenied = audits.DenialHook(p.Name)
	}

	throttle := middleware.NewThrottle(lim, logger)

	// chain applies policies outermost first, so a login request spends
	// both general API budget and auth budget.
	chain := func(h http.Handler, ps ...*limiter.Policy) http.Handler {
		for i := len(ps) - 1; i >= 0; i-- {
			h = throttle.Limit(ps[i])(h)
		}
		return h
	}

	login := handler.NewAuth(lim, policies.Auth, demoVerify, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.Health)
	mux.Handle("/api/", chain(handler.Echo("api"), policies.API))
	mux.Handle("/api/auth/login", chain(http.HandlerFunc(login.Login), policies.API, policies.Auth))
	mux.Handle("/api/auth/password-reset", chain(handler.Echo("passwordReset"), policies.API, policies.PasswordReset))
	mux.Handle("/api/email/send", chain(handler.Echo("email"), policies.API, policies.Email))
	mux.Handle("/api/uploads", chain(handler.Echo("upload"), policies.API, policies.Upload))
	mux.Handle("/api/transactions", chain(handler.Echo("transaction"), policies.API, policies.Transaction))
	mux.Handle("/api/search", chain(handler.Echo("search"), policies.API, policies.Search))
	mux.Handle("/api/admin/", chain(handler.Echo("admin"), policies.API, policies.Admin))

	if path := configPath(); path != "" {
		go func() {
			err := config.Watch(ctx, path, logger, func(next *config.Config) {
				resolver.SetAllowlist(next.Allowlist)
			})
			if err != nil {
				logger.Warn("config watch disabled", "path", path, "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr, "env", cfg.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// demoVerify stands in for the platform's identity provider. It accepts
// any non-empty credential pair so the penalty-clearing path on /api/auth
// can be exercised locally.
func demoVerify(username, password string) bool {
	return username != "" && password != ""
}
