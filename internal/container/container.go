package container

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/lodgic/authd/internal/account"
	"github.com/lodgic/authd/internal/cache"
	"github.com/lodgic/authd/internal/config"
	"github.com/lodgic/authd/internal/database"
	"github.com/lodgic/authd/internal/federation"
	"github.com/lodgic/authd/internal/health"
	"github.com/lodgic/authd/internal/oauth"
	"github.com/lodgic/authd/internal/token"
	"github.com/lodgic/authd/internal/vault"
	"github.com/lodgic/authd/internal/web/handler"
	"github.com/lodgic/authd/internal/web/middleware"
)

// Container assembles the whole service graph once at startup.
type Container struct {
	Config     config.Config
	Logger     *slog.Logger
	Database   *database.Database
	Cache      *cache.Service
	Verifier   *federation.Verifier
	HttpServer *http.Server
}

func New(ctx context.Context) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var logLevel slog.Level
	if cfg.Server.Environment == config.EnvDevelopment {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Data sources
	db := database.New()
	if err := db.Connect(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cacheService, err := cache.NewService(cfg.Cache, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	// Crypto
	cipher, err := vault.NewCipher(cfg.Vault.MasterKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	tokenService, err := token.NewService(&cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Services
	accountService := account.NewService(db)
	vaultService := vault.NewService(db, cipher)
	clientService := oauth.NewClientService(db)
	codeStore := oauth.NewCodeStore(db, cfg.OAuth.AuthCodeTTL)
	tokenStore := token.NewStore(db)

	var clientDirectory handler.ClientDirectory = clientService
	var limiter middleware.RateLimiter
	if cfg.Cache.Enabled {
		clientDirectory = cache.NewCachedClientResolver(clientService, cacheService, cfg.Cache.ClientTTL)
		limiter = middleware.NewRedisRateLimiter(cacheService)
	}

	verifier, err := federation.NewVerifier(ctx, cfg.Federation, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start federation verifier: %w", err)
	}
	dispatcher := federation.NewDispatcher(tokenService, verifier, accountService, logger)

	// Listeners
	httpHandler := &handler.Handler{
		Config:     &cfg,
		Logger:     logger,
		Clients:    clientDirectory,
		Registrar:  clientService,
		Codes:      codeStore,
		Accounts:   accountService,
		Tokens:     tokenService,
		TokenStore: tokenStore,
		Vault:      vaultService,
		Dispatcher: dispatcher,
		Checker:    health.NewChecker(db, cacheService, logger),
		Limiter:    limiter,
	}

	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        mux,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Database:   db,
		Cache:      cacheService,
		Verifier:   verifier,
		HttpServer: httpServer,
	}, nil
}

// Close releases every long-lived resource the container owns.
func (c *Container) Close() {
	if c.Verifier != nil {
		c.Verifier.Close()
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Logger.Error("failed to close cache", "error", err)
		}
	}
	c.Database.Close()
}
