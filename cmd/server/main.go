package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/config"
	"tokoledger/backend/internal/httpapi"
	"tokoledger/backend/internal/logger"
	"tokoledger/backend/internal/ratelimit"
	"tokoledger/backend/internal/service"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/store/memory"
	pgstore "tokoledger/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel})

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	policy, err := service.ParseStockPolicy(cfg.SaleStockPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid SALE_STOCK_POLICY")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DatabaseURL, log); err != nil {
				log.Fatal().Err(err).Msg("apply migrations")
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns), pgstore.WithLogger(log))
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Str("repository", "postgres").Msg("storage ready")
	} else {
		repo = memory.NewSeeded()
		log.Info().Str("repository", "memory").Msg("storage ready")
	}

	saleCache := cache.SaleCache(cache.NoopSaleCache{})
	limiterStore := ratelimit.Store(ratelimit.NewMemoryStore())
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache and in-process rate limits")
			_ = client.Close()
		} else {
			saleCache = cache.NewRedisSaleCache(client)
			limiterStore = ratelimit.NewRedisStore(client)
			closers = append(closers, client.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
		}
	}

	svc := service.New(repo,
		service.WithLogger(log),
		service.WithSaleCache(saleCache, cfg.SaleCacheTTL()),
		service.WithStockPolicy(policy),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, log)
	if cfg.BootstrapOwnerPassword != "" && cfg.BootstrapBusinessID != "" {
		if err := auth.EnsureOwner(ctx, cfg.BootstrapBusinessID, cfg.BootstrapOwnerUsername, cfg.BootstrapOwnerPassword); err != nil {
			log.Fatal().Err(err).Msg("bootstrap owner account")
		}
		log.Info().Str("business_id", cfg.BootstrapBusinessID).Str("username", cfg.BootstrapOwnerUsername).Msg("owner account ready")
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLogger(log),
		httpapi.WithLoginLimiter(ratelimit.New(limiterStore, cfg.LoginMaxAttempts, cfg.LoginWindow())),
		httpapi.WithThrottle(ratelimit.NewThrottle(cfg.RateLimitRPS, cfg.RateLimitBurst)),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("stock_policy", string(policy)).Msg("ledger backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
	log.Info().Msg("server stopped")
}

func migrateUp(databaseURL string, log zerolog.Logger) error {
	m, err := pgstore.NewMigrator(databaseURL, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
