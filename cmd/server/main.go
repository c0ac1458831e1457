package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chat-token-budget/internal/config"
	"chat-token-budget/internal/domain/ports/adapter"
	aiAdapters "chat-token-budget/internal/infra/adapters/ai"
	pg "chat-token-budget/internal/infra/db/postgres"
	"chat-token-budget/internal/infra/logging"
	"chat-token-budget/internal/infra/metrics"
	"chat-token-budget/internal/infra/ratelimit"
	red "chat-token-budget/internal/infra/redis"
	"chat-token-budget/internal/infra/scheduler"
	"chat-token-budget/internal/infra/security"
	"chat-token-budget/internal/infra/tokenizer"
	"chat-token-budget/internal/infra/web"
	"chat-token-budget/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop AI provider, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Tokens.Tokenizer)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	// ---- Message encryption (optional) ----
	var cipher *security.MessageCipher
	if cfg.Security.EncryptionKey != "" {
		cipher, err = security.NewMessageCipher(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("message cipher: %w", err)
		}
		logger.Info().Msg("message encryption at rest enabled")
	}

	// ---- Redis (optional) ----
	var (
		limiter   adapter.RateLimiter
		locker    adapter.Locker
		chatCache *red.ChatCache
		jobs      []scheduler.Job
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		limiter = red.NewSlidingWindowLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		locker = red.NewLocker(redisClient)
		if cipher == nil {
			chatCache = red.NewChatCache(redisClient, cfg.Redis.TTL)
		} else {
			logger.Info().Msg("session cache disabled while messages are encrypted")
		}
		logger.Info().Int("db", cfg.Redis.DB).Msg("redis enabled")
	} else {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		jobs = append(jobs, scheduler.JobFunc{JobName: "ratelimit_sweep", Fn: mem.Sweep})
		limiter = mem
		logger.Warn().Msg("redis not configured; rate limits are per replica")
	}

	// ---- Token accounting ----
	registry, err := tokenizer.NewRegistry(cfg.Tokens.Tokenizer, cfg.Tokens.CacheDir, cfg.Tokens.DefaultModel, logger)
	if err != nil {
		return fmt.Errorf("token registry: %w", err)
	}

	// ---- AI adapter ----
	ai, err := newAIAdapter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	ai = aiAdapters.NewLimitedAI(ai, cfg.AI.ConcurrentLimit)
	logger.Info().Str("provider", ai.Provider()).Int("concurrency", cfg.AI.ConcurrentLimit).Msg("AI adapter ready")

	// ---- Use cases ----
	chatRepo := pg.NewChatSessionRepo(pool, chatCache, cipher)
	txm := pg.NewTxManager(pool)
	tokenUC := usecase.NewTokenUseCase(registry)
	chatUC := usecase.NewChatUseCase(chatRepo, txm, ai, registry, locker, cfg.AI.SystemPrompt, logger, cfg.Runtime.Dev)

	// ---- Housekeeping ----
	retention := usecase.NewRetentionUseCase(chatRepo, cfg.Retention.FinishedTTL, logger)
	if retention.Enabled() {
		jobs = append(jobs, scheduler.JobFunc{JobName: "chat_retention", Fn: retention.PurgeFinished})
	}
	if len(jobs) > 0 {
		sched := scheduler.NewScheduler(cfg.Retention.Interval, logger, jobs...)
		sched.Start(ctx)
		defer sched.Stop()
	}

	// ---- HTTP ----
	auth := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	srv := web.NewServer(tokenUC, chatUC, auth, web.ServerOptions{
		Limiter:        limiter,
		RateWindow:     cfg.RateLimit.Window,
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         pool.Ping,
	}, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newAIAdapter(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.AIServiceAdapter, error) {
	switch cfg.AI.Provider {
	case "openai":
		a, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.Tokens.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		return a, nil
	case "gemini":
		a, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		return a, nil
	case "noop":
		return aiAdapters.NewNoopAIAdapter(logger), nil
	}
	return nil, fmt.Errorf("ai.provider %q not supported", cfg.AI.Provider)
}
