package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sales-dashboard/internal/auth"
	"sales-dashboard/internal/config"
	"sales-dashboard/internal/dataset"
	"sales-dashboard/internal/middleware"
	"sales-dashboard/internal/observability"
	"sales-dashboard/internal/server"
	"sales-dashboard/internal/services"
	"sales-dashboard/internal/ui/templates"
)

const (
	version       = "1.0.0"
	renderTimeout = 10 * time.Second
	cacheMaxAge   = "public, max-age=300"
)

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheMaxAge)
	if err := templates.Dashboard().Render(ctx, w); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

// newHandler assembles the full HTTP stack for cfg around an already built
// sales service.
func newHandler(cfg *config.Config, sales *services.SalesService, logger *slog.Logger) (http.Handler, error) {
	credentials, err := auth.NewCredentials(cfg.Auth.Users, cfg.Auth.DevUser, cfg.Auth.DevPassword, bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	tokens := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	templateHandlers := &server.TemplateHandlers{
		Dashboard: handleDashboard,
	}
	srv := server.NewServer(sales, credentials, tokens, cfg.Security, logger, templateHandlers)

	middlewares := []middleware.Middleware{
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
	}
	if cfg.Security.EnableRateLimit {
		middlewares = append(middlewares, middleware.RateLimit(middleware.NewRateLimiter(cfg.Security), logger))
	}

	return middleware.Chain(middlewares...)(srv), nil
}

func newLoader(cfg *config.Config, logger *slog.Logger) *dataset.Loader {
	return dataset.NewLoader(cfg.Dataset.CSVFile,
		dataset.WithStrict(cfg.Dataset.Strict),
		dataset.WithCacheDir(cfg.Dataset.CacheDir),
		dataset.WithLogger(logger),
	)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", version,
		"config", cfg,
	)

	loader := newLoader(cfg, logger)
	sales := services.NewSalesService(loader, logger)

	if cfg.Dataset.EagerLoad {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Dataset.LoadTimeout)
		start := time.Now()
		if _, err := loader.Load(ctx); err != nil {
			// Requests retry the load; sales endpoints answer 503 meanwhile.
			logger.Error("initial dataset load failed", "error", err, "path", cfg.Dataset.CSVFile)
		} else {
			logger.Info("dataset loaded", "records", loader.Stats().Records, "duration", time.Since(start))
		}
		cancel()
	}

	handler, err := newHandler(cfg, sales, logger)
	if err != nil {
		logger.Error("failed to configure credentials", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	if cfg.Dataset.ReloadCron != "" {
		scheduler, err := server.NewReloadScheduler(cfg.Dataset.ReloadCron, sales, cfg.Dataset.LoadTimeout, logger)
		if err != nil {
			logger.Error("failed to configure reload schedule", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		gracefulServer.RegisterShutdownHook(scheduler.Stop)
	}

	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		logger.Info("shutting down sales service", "stats", sales.Stats())
		return nil
	})

	logger.Info("starting graceful server")
	if err := gracefulServer.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
