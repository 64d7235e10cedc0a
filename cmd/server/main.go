package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"proposal/internal/auth"
	"proposal/internal/config"
	apphttp "proposal/internal/http"
	"proposal/internal/metrics"
	"proposal/internal/repository"
	"proposal/internal/repository/postgres"
	"proposal/internal/repository/sqlite"
	"proposal/internal/service"
	"proposal/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accountRepo, err := openAccounts(ctx, cfg)
	if err != nil {
		logger.Fatalf("open account store: %v", err)
	}
	defer accountRepo.Close()

	if err := accountRepo.Init(ctx); err != nil {
		logger.Fatalf("init account repository: %v", err)
	}

	tokens, err := auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		logger.Fatalf("setup tokens: %v", err)
	}
	accountService := service.NewAccountService(accountRepo, auth.NewPasswordHasher(cfg.Auth.BcryptCost), tokens)

	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	photoService := service.NewPhotoService(store, cfg.Storage.Bucket, cfg.Storage.KeyPrefix, cfg.Storage.URLExpiry)

	reg := prometheus.NewRegistry()
	metrics.RegisterMetrics(reg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		accountService,
		photoService,
		apphttp.SessionCookie{
			Name:   cfg.Auth.CookieName,
			Secure: cfg.Auth.CookieSecure,
			MaxAge: tokens.TTL(),
		},
		cfg.Server.StaticDir,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		logger,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s (database %s)", cfg.Server.Addr, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func openAccounts(ctx context.Context, cfg config.Config) (repository.AccountRepository, error) {
	if cfg.Database.Driver == config.DriverPostgres {
		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewAccountRepository(db), nil
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return sqlite.NewAccountRepository(db), nil
}

// buildStorage returns a nil Service when no bucket is configured; photo listing then reports 503.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Warn("storage bucket not configured, photo listing disabled")
		return nil, nil
	}

	svc, err := storage.NewS3ServiceFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return svc, nil
}
